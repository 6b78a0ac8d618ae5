package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"notifyhub/internal/domain/entity"
)

// policyFile is the layout of CHANNEL_POLICY_FILE:
//
//	channels:
//	  EMAIL:
//	    max_concurrent_tasks: 2
//	    rate_limit_per_second: 10
//	    retry:
//	      initial_delay: 2m
type policyFile struct {
	Channels map[string]yaml.Node `yaml:"channels"`
}

// LoadChannelPolicies reads channel policy overrides from a YAML file.
// Each channel entry is applied on top of entity.DefaultPolicy, so a file
// only needs the fields it changes. Channels absent from the file keep the defaults.
// The path parameter is expected to come from a trusted source (environment or CLI flag).
func LoadChannelPolicies(path string) (map[entity.ChannelType]entity.ChannelPolicy, error) {
	// #nosec G304 -- path is provided by trusted source (environment), not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParseChannelPolicies(data)
}

// ParseChannelPolicies parses the YAML document produced for LoadChannelPolicies.
func ParseChannelPolicies(data []byte) (map[entity.ChannelType]entity.ChannelPolicy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	out := make(map[entity.ChannelType]entity.ChannelPolicy, len(entity.AllChannels()))
	for _, ch := range entity.AllChannels() {
		out[ch] = entity.DefaultPolicy(ch)
	}

	for key, node := range file.Channels {
		ch, err := entity.ParseChannelType(key)
		if err != nil {
			return nil, err
		}
		p := out[ch]
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch, err)
		}
		p.Channel = ch
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch, err)
		}
		out[ch] = p
	}
	return out, nil
}
