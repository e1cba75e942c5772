// Package machineid regenerates the target app's telemetry identifiers
// so a reinstalled or rate-limited client is seen as a fresh machine.
package machineid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"aifree-bot/platform"
)

const (
	KeyMachineID    = "telemetry.machineId"
	KeyDevDeviceID  = "telemetry.devDeviceId"
	KeyMacMachineID = "telemetry.macMachineId"
	KeySqmID        = "telemetry.sqmId"
)

var appProcesses = []string{"Cursor", "Cursor Helper"}

// Resetter rewrites the identity file in place. The sqmId key is sticky:
// it is created once and survives every later reset.
type Resetter struct {
	storagePath string
	services    platform.Services

	// writeFile is swapped in tests to simulate a corrupted write.
	writeFile func(string, []byte, os.FileMode) error
}

func NewResetter() (*Resetter, error) {
	path, err := platform.AppStorageJSON(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	return &Resetter{
		storagePath: path,
		services:    platform.Current(),
		writeFile:   os.WriteFile,
	}, nil
}

// NewResetterAt is used by tests and by callers that manage a
// non-default install location.
func NewResetterAt(path string, services platform.Services) *Resetter {
	return &Resetter{storagePath: path, services: services, writeFile: os.WriteFile}
}

// Reset kills the app, regenerates the three volatile identifiers and
// writes the file back. Returns a human-readable summary of the change.
func (r *Resetter) Reset() (bool, string) {
	if err := r.services.KillProcesses(appProcesses...); err != nil {
		// Non-fatal: the app may simply not be running.
		log.Printf("could not stop app processes: %v", err)
	}

	config, err := r.readConfig()
	if err != nil {
		return false, fmt.Sprintf("identity file unreadable: %v", err)
	}

	changes := ""
	for key, gen := range map[string]func() string{
		KeyMachineID:    newMachineID,
		KeyDevDeviceID:  newDeviceID,
		KeyMacMachineID: newMachineID,
	} {
		old := config[key]
		if old == "" {
			old = "not found"
		}
		config[key] = gen()
		changes += fmt.Sprintf("%s:\n  - %s\n  + %s\n", key, old, config[key])
	}
	if _, ok := config[KeySqmID]; !ok {
		config[KeySqmID] = newMachineID()
	}

	if err := r.writeConfig(config); err != nil {
		return false, fmt.Sprintf("identity file not changed: %v", err)
	}
	return true, changes
}

func (r *Resetter) readConfig() (map[string]string, error) {
	raw, err := os.ReadFile(r.storagePath)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	config := map[string]string{}
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, err
	}
	return config, nil
}

// writeConfig writes to a sibling temp file, verifies the bytes round-trip
// and only then renames over the original. A corrupted write leaves the
// previous file untouched.
func (r *Resetter) writeConfig(config map[string]string) error {
	raw, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.storagePath), 0o755); err != nil {
		return err
	}
	tmp := r.storagePath + ".tmp"
	if err := r.writeFile(tmp, raw, 0o600); err != nil {
		return err
	}
	written, err := os.ReadFile(tmp)
	if err != nil {
		return err
	}
	if !bytes.Equal(written, raw) {
		os.Remove(tmp)
		return fmt.Errorf("verify failed: written file does not match generated identifiers")
	}
	return os.Rename(tmp, r.storagePath)
}

func newMachineID() string {
	return uuid.NewString()
}

func newDeviceID() string {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	out := make([]byte, 32)
	for i := range out {
		out[i] = letters[rand.Intn(len(letters))]
	}
	return string(out)
}
