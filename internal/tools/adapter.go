package tools

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrAdapterUnavailable = errors.New("tools: bluetooth adapter unavailable")
	ErrAdapterPoweredOff  = errors.New("tools: bluetooth adapter powered off")
)

// AdapterInfo is the subset of `bluetoothctl show` the daemon cares about.
type AdapterInfo struct {
	Address      string
	Name         string
	Powered      bool
	Discoverable bool
}

// ShowAdapter runs `bluetoothctl show` and parses the default controller.
func ShowAdapter(r CommandRunner) (AdapterInfo, error) {
	stdout, stderr, code, err := r.Run("bluetoothctl", "show")
	if err != nil {
		return AdapterInfo{}, fmt.Errorf("%w: bluetoothctl exit=%d: %v: %s",
			ErrAdapterUnavailable, code, err, strings.TrimSpace(string(stderr)))
	}
	info, ok := parseShow(stdout)
	if !ok {
		return AdapterInfo{}, fmt.Errorf("%w: no default controller", ErrAdapterUnavailable)
	}
	return info, nil
}

// RequirePowered fails unless the default adapter exists and is powered.
func RequirePowered(r CommandRunner) error {
	info, err := ShowAdapter(r)
	if err != nil {
		return err
	}
	if !info.Powered {
		return fmt.Errorf("%w: %s", ErrAdapterPoweredOff, info.Address)
	}
	log.Debug().Str("adapter", info.Address).Str("name", info.Name).Msg("tools: bluetooth adapter ready")
	return nil
}

func parseShow(out []byte) (AdapterInfo, bool) {
	var info AdapterInfo
	found := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(line, "Controller "); ok {
			addr, _, _ := strings.Cut(rest, " ")
			info.Address = addr
			found = true
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			info.Name = value
		case "Powered":
			info.Powered = value == "yes"
		case "Discoverable":
			info.Discoverable = value == "yes"
		}
	}
	return info, found
}
