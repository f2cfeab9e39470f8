package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/hashicorp/go-multierror"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

// interface names are limited by IFNAMSIZ
var ifacePattern, _ = regexp.Compile("^[0-9A-Za-z._-]{1,15}$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func InterfaceValidator(s string) error {
	if !ifacePattern.MatchString(s) {
		return fmt.Errorf("%q is not a valid interface name, must match pattern %s", s, ifacePattern.String())
	}
	return nil
}

// ValidateConfig checks the whole configuration and reports every problem found.
func ValidateConfig(cfg *LocalCfg) error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if err := NameValidator(cfg.Name); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.Key == "" {
		add("key path is required")
	}

	names := make(map[string]bool)
	tuns := make(map[string]bool)
	fingerprints := make(map[Fingerprint]string)
	var zero Fingerprint

	peer := func(name, tun string, fp Fingerprint) {
		if err := NameValidator(name); err != nil {
			result = multierror.Append(result, err)
		}
		if names[name] {
			add("duplicate peer name %s", name)
		}
		names[name] = true

		if err := InterfaceValidator(tun); err != nil {
			result = multierror.Append(result, fmt.Errorf("peer %s: %w", name, err))
		} else if tuns[tun] {
			add("peer %s: interface %s is already used by another peer", name, tun)
		}
		tuns[tun] = true

		if fp == zero {
			add("peer %s: fingerprint is required", name)
		} else if other, ok := fingerprints[fp]; ok {
			add("peer %s: fingerprint %s is already used by %s", name, fp, other)
		} else {
			fingerprints[fp] = name
		}
	}

	for _, c := range cfg.Connect {
		peer(c.Name, c.Tun, c.Fingerprint)
		if c.Host == "" {
			add("peer %s: host is required", c.Name)
		}
		if c.Port == 0 {
			add("peer %s: port is required", c.Name)
		}
	}

	binds := make(map[string]bool)
	for i, l := range cfg.Listen {
		if !l.Address.IsValid() || l.Address.Port() == 0 {
			add("listen[%d]: invalid address %s", i, l.Address)
		} else if binds[l.Address.String()] {
			add("listen[%d]: duplicate address %s", i, l.Address)
		}
		binds[l.Address.String()] = true
		if len(l.Peers) == 0 {
			add("listen[%d]: no peers configured", i)
		}
		for _, p := range l.Peers {
			peer(p.Name, p.Tun, p.Fingerprint)
		}
	}

	return result.ErrorOrNil()
}
