/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: shm.go
Description: Shared-memory coverage channel between the fuzzer and instrumented targets.
The segment identifier is handed to each child through the environment and the
child's coverage runtime attaches to the same memory and writes edge counters into it.
*/

package shm

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/kleascm/akaylee-greybox/pkg/coverage"
	"github.com/sirupsen/logrus"
)

// EnvVar is the environment variable the coverage runtime reads the segment id from
const EnvVar = "__AFL_SHM_ID"

var (
	// ErrSetup is returned when the segment cannot be created or attached
	ErrSetup = errors.New("shared memory setup failed")
	// ErrUnsupported is returned on platforms without SysV shared memory
	ErrUnsupported = errors.New("shared memory not supported on this platform")
)

// Channel owns one shared-memory segment of exactly coverage.MapSize bytes.
// Destroy is idempotent and safe to call from cleanup paths.
type Channel struct {
	id     int
	mem    []byte
	logger *logrus.Logger
}

// Setup creates, attaches and zeroes a new private segment
func Setup(logger *logrus.Logger) (*Channel, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	id, mem, err := allocate(coverage.MapSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	c := &Channel{id: id, mem: mem, logger: logger}
	clear(c.mem)

	logger.WithFields(logrus.Fields{
		"shm_id": id,
		"size":   coverage.MapSize,
	}).Debug("Shared memory segment attached")

	return c, nil
}

// ID returns the segment identifier
func (c *Channel) ID() int {
	return c.id
}

// Env returns the NAME=value pair children need to attach
func (c *Channel) Env() string {
	return EnvVar + "=" + strconv.Itoa(c.id)
}

// Map returns the attached memory viewed as a coverage map, or nil after Destroy
func (c *Channel) Map() *coverage.Map {
	if c == nil || c.mem == nil {
		return nil
	}
	return (*coverage.Map)(c.mem)
}

// Reset zeroes the shared map before the next execution
func (c *Channel) Reset() {
	if c == nil || c.mem == nil {
		if c != nil {
			c.logger.Warn("Reset called on a destroyed shared memory channel")
		}
		return
	}
	clear(c.mem)
}

// Destroy detaches and removes the segment. Calling it again is a no-op.
func (c *Channel) Destroy() error {
	if c == nil || c.mem == nil {
		return nil
	}
	mem := c.mem
	c.mem = nil

	if err := release(c.id, mem); err != nil {
		return fmt.Errorf("failed to release shared memory %d: %w", c.id, err)
	}
	c.logger.WithField("shm_id", c.id).Debug("Shared memory segment removed")
	return nil
}
