package ec2core

import (
	"github.com/fiam/ec2core/pkg/ec2core/config"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

// catalog serves the configured images and security groups to the
// lifecycle controller and the attribute manager
type catalog struct {
	cfg *config.Config
}

func (c catalog) Image(id string) (config.Image, bool) {
	return c.cfg.Image(id)
}

func (c catalog) SecurityGroup(id string) (types.SecurityGroup, bool) {
	group, ok := c.cfg.SecurityGroup(id)
	if !ok {
		return types.SecurityGroup{}, false
	}
	return types.SecurityGroup{ID: group.ID, Name: group.Name}, true
}

func (c catalog) SecurityGroupByName(name string) (types.SecurityGroup, bool) {
	for _, group := range c.cfg.SecurityGroups {
		if group.Name == name {
			return types.SecurityGroup{ID: group.ID, Name: group.Name}, true
		}
	}
	return types.SecurityGroup{}, false
}
