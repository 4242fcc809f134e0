package storage

import (
	"os"
	"strconv"

	"github.com/google/uuid"
)

// GenerateInstanceID returns a unique string for this process (hostname+pid+random).
// Journal rows carry it so events from several hosts sharing one database can
// be told apart.
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + uuid.NewString()[:8]
}
