//go:build linux

package serial

import (
	"strings"

	"github.com/hedhyw/Go-Serial-Detector/pkg/v1/serialdet"
)

// modemDescriptions are substrings of the device descriptions of common USB GSM modems.
var modemDescriptions = []string{"modem", "gsm", "sierra", "huawei", "netgear", "sim800", "quectel"}

// FindModemPortName returns the path of the first serial device that looks like a GSM modem.
func FindModemPortName() (string, error) {
	devices, err := serialdet.List()
	if err != nil {
		return "", err
	}

	for _, device := range devices {
		if IsModemDescription(device.Description()) {
			return device.Path(), nil
		}
	}

	return "", NoModemFound
}

// IsModemDescription reports if the given device description belongs to a GSM modem.
func IsModemDescription(description string) bool {
	description = strings.ToLower(description)
	for _, candidate := range modemDescriptions {
		if strings.Contains(description, candidate) {
			return true
		}
	}
	return false
}
