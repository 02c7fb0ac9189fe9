package lifecycle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/executor"
)

type PasswordData struct {
	InstanceID string
	Timestamp  time.Time
	// PasswordData is always empty: instances have no generated
	// administrator password
	PasswordData string
}

func (c *Controller) PasswordData(ctx context.Context, instanceID string) (*PasswordData, error) {
	instance, err := c.registry.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &PasswordData{
		InstanceID: instance.ID,
		Timestamp:  c.now().UTC(),
	}, nil
}

type ConsoleOutput struct {
	InstanceID string
	Timestamp  time.Time
	// Output is base64 encoded
	Output string
}

// ConsoleOutput returns what the instance wrote to its console. Instances
// the backend no longer knows about have empty output.
func (c *Controller) ConsoleOutput(ctx context.Context, instanceID string) (*ConsoleOutput, error) {
	instance, err := c.registry.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	output, err := c.exe.ConsoleOutput(ctx, instance.ID)
	if err != nil && !errors.Is(err, executor.ErrUnknownInstance) {
		return nil, api.InfrastructureError(fmt.Errorf("retrieving console output: %w", err))
	}
	return &ConsoleOutput{
		InstanceID: instance.ID,
		Timestamp:  c.now().UTC(),
		Output:     base64.StdEncoding.EncodeToString([]byte(output)),
	}, nil
}
