package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateDeviceID returns the appliance's persistent identity, creating
// it on first boot. The ID names this device on the server and the broker.
func LoadOrCreateDeviceID(path string) (string, error) {
	if b, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(b))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read identity file: %w", err)
	}
	id := "RPI_" + strings.ToUpper(uuid.NewString()[:8])
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write identity file: %w", err)
	}
	return id, nil
}
