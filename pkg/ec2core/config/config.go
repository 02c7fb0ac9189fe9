// Package config loads the server configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fiam/ec2core/pkg/ec2core/docker"
	"github.com/fiam/ec2core/pkg/ec2core/profile"
)

const (
	BackendSim    = "sim"
	BackendDocker = "docker"

	StorageMemory = "memory"
	StorageBolt   = "bolt"
)

var ownerIDPattern = regexp.MustCompile(`^[0-9]{12}$`)

type Image struct {
	ID             string `yaml:"id"`
	KernelID       string `yaml:"kernel_id"`
	RamdiskID      string `yaml:"ramdisk_id"`
	RootDeviceName string `yaml:"root_device_name"`
	RootDeviceType string `yaml:"root_device_type"`
	Architecture   string `yaml:"architecture"`
	// DockerImage is the image reference used by the docker backend
	DockerImage string `yaml:"docker_image"`
	// RootVolumeSize in GiB, only used by EBS backed images
	RootVolumeSize int `yaml:"root_volume_size"`
}

type SecurityGroup struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type Capacity struct {
	Total   int            `yaml:"total"`
	PerType map[string]int `yaml:"per_type"`
}

type Network struct {
	PrivateCIDR string `yaml:"private_cidr"`
	PublicCIDR  string `yaml:"public_cidr"`
}

type Storage struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type Docker struct {
	Network          string `yaml:"network"`
	ExitResourceMode string `yaml:"exit_resource_mode"`
}

type Config struct {
	Region               string           `yaml:"region"`
	OwnerID              string           `yaml:"owner_id"`
	AvailabilityZones    []string         `yaml:"availability_zones"`
	DefaultInstanceType  string           `yaml:"default_instance_type"`
	Images               []Image          `yaml:"images"`
	SecurityGroups       []SecurityGroup  `yaml:"security_groups"`
	Capacity             Capacity         `yaml:"capacity"`
	Network              Network          `yaml:"network"`
	IdempotencyRetention profile.Duration `yaml:"idempotency_retention"`
	TerminatedRetention  profile.Duration `yaml:"terminated_retention"`
	ReaperInterval       profile.Duration `yaml:"reaper_interval"`
	Backend              string           `yaml:"backend"`
	Storage              Storage          `yaml:"storage"`
	Docker               Docker           `yaml:"docker"`
	// Profile is the path of a transition profile for the sim backend
	Profile string `yaml:"profile"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Region:              "us-east-1",
		OwnerID:             "123456789012",
		AvailabilityZones:   []string{"us-east-1a", "us-east-1b", "us-east-1c"},
		DefaultInstanceType: "m1.small",
		Images: []Image{
			{
				ID:             "ami-0a1b2c3d4e5f60718",
				KernelID:       "aki-0a1b2c3d",
				RamdiskID:      "ari-0a1b2c3d",
				RootDeviceName: "/dev/sda1",
				RootDeviceType: "instance-store",
				Architecture:   "x86_64",
				DockerImage:    "alpine:3.21",
			},
			{
				ID:             "ami-0e1b2c3d4e5f60719",
				RootDeviceName: "/dev/xvda",
				RootDeviceType: "ebs",
				Architecture:   "x86_64",
				DockerImage:    "alpine:3.21",
				RootVolumeSize: 8,
			},
		},
		SecurityGroups: []SecurityGroup{
			{ID: "sg-0a1b2c3d4e5f60718", Name: "default"},
		},
		Capacity: Capacity{Total: 64},
		Network: Network{
			PrivateCIDR: "10.0.0.0/16",
			PublicCIDR:  "198.51.100.0/24",
		},
		IdempotencyRetention: profile.Duration{Duration: 24 * time.Hour},
		TerminatedRetention:  profile.Duration{Duration: time.Hour},
		ReaperInterval:       profile.Duration{Duration: 30 * time.Second},
		Backend:              BackendSim,
		Storage:              Storage{Backend: StorageMemory},
		Docker:               Docker{ExitResourceMode: string(docker.ExitResourceModeCleanup)},
	}
}

// Load reads path over the defaults. Unknown fields are errors.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Region) == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if !ownerIDPattern.MatchString(c.OwnerID) {
		errs = append(errs, fmt.Errorf("owner_id %q must be 12 digits", c.OwnerID))
	}
	if len(c.AvailabilityZones) == 0 {
		errs = append(errs, errors.New("at least one availability zone is required"))
	}
	for _, zone := range c.AvailabilityZones {
		if !strings.HasPrefix(zone, c.Region) {
			errs = append(errs, fmt.Errorf("availability zone %q is not in region %q", zone, c.Region))
		}
	}
	if len(c.Images) == 0 {
		errs = append(errs, errors.New("at least one image is required"))
	}
	images := make(map[string]bool, len(c.Images))
	for i, image := range c.Images {
		if !strings.HasPrefix(image.ID, "ami-") {
			errs = append(errs, fmt.Errorf("images[%d]: id %q must start with ami-", i, image.ID))
		}
		if images[image.ID] {
			errs = append(errs, fmt.Errorf("images[%d]: duplicated id %q", i, image.ID))
		}
		images[image.ID] = true
		switch image.RootDeviceType {
		case "", "ebs", "instance-store":
		default:
			errs = append(errs, fmt.Errorf("images[%d]: invalid root_device_type %q", i, image.RootDeviceType))
		}
		if image.RootVolumeSize < 0 {
			errs = append(errs, fmt.Errorf("images[%d]: root_volume_size must be >= 0", i))
		}
	}
	groups := make(map[string]bool, len(c.SecurityGroups))
	for i, group := range c.SecurityGroups {
		if !strings.HasPrefix(group.ID, "sg-") {
			errs = append(errs, fmt.Errorf("security_groups[%d]: id %q must start with sg-", i, group.ID))
		}
		if groups[group.ID] {
			errs = append(errs, fmt.Errorf("security_groups[%d]: duplicated id %q", i, group.ID))
		}
		groups[group.ID] = true
	}
	if c.Capacity.Total <= 0 {
		errs = append(errs, errors.New("capacity.total must be > 0"))
	}
	for instanceType, n := range c.Capacity.PerType {
		if n < 0 {
			errs = append(errs, fmt.Errorf("capacity.per_type[%s] must be >= 0", instanceType))
		}
	}
	private, err := netip.ParsePrefix(c.Network.PrivateCIDR)
	if err != nil {
		errs = append(errs, fmt.Errorf("network.private_cidr: %w", err))
	}
	if c.Network.PublicCIDR != "" {
		public, err := netip.ParsePrefix(c.Network.PublicCIDR)
		if err != nil {
			errs = append(errs, fmt.Errorf("network.public_cidr: %w", err))
		} else if private.IsValid() && public.Overlaps(private) {
			errs = append(errs, errors.New("network.public_cidr overlaps network.private_cidr"))
		}
	}
	if c.IdempotencyRetention.Duration <= 0 {
		errs = append(errs, errors.New("idempotency_retention must be > 0"))
	}
	if c.TerminatedRetention.Duration < 0 {
		errs = append(errs, errors.New("terminated_retention must be >= 0"))
	}
	if c.ReaperInterval.Duration <= 0 {
		errs = append(errs, errors.New("reaper_interval must be > 0"))
	}
	switch c.Backend {
	case BackendSim, BackendDocker:
	default:
		errs = append(errs, fmt.Errorf("invalid backend %q", c.Backend))
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageBolt:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage backend %q", c.Storage.Backend))
	}
	if _, err := docker.ParseExitResourceMode(c.Docker.ExitResourceMode); err != nil {
		errs = append(errs, fmt.Errorf("docker.exit_resource_mode: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) Image(id string) (Image, bool) {
	for _, image := range c.Images {
		if image.ID == id {
			return image, true
		}
	}
	return Image{}, false
}

func (c *Config) SecurityGroup(id string) (SecurityGroup, bool) {
	for _, group := range c.SecurityGroups {
		if group.ID == id {
			return group, true
		}
	}
	return SecurityGroup{}, false
}

// LoadProfile returns the configured transition profile, or nil when none
// is set
func (c *Config) LoadProfile() (*profile.Profile, error) {
	if strings.TrimSpace(c.Profile) == "" {
		return nil, nil
	}
	return profile.LoadFile(c.Profile)
}
