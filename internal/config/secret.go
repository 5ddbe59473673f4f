package config

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
)

// Secret is a named secret value defined inline in the configuration file.
// Values may refer to environment variables using the ${VAR_NAME} syntax,
// for example:
//
//	secrets:
//	  deploy-token: ${DEPLOY_TOKEN}
//	  ssh-private-key:
//	    value: ${SSH_PRIVATE_KEY_B64}
//
// SSH key material is expected to be base64-encoded; access tokens are used
// as-is. Secret values never appear in logs or in marshalled configuration.
type Secret struct {
	Name  string `json:"-"`
	Value string `json:"value"`
}

const redacted = "<redacted>"

func (s *Secret) MarshalYAML() (any, error) {
	return redacted, nil
}

func (s *Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// UnmarshalYAML accepts either a scalar value or a mapping with a "value" key.
func (s *Secret) UnmarshalYAML(bs []byte) error {
	var scalar string
	if err := yaml.Unmarshal(bs, &scalar); err == nil {
		s.Value = scalar
		return nil
	}

	var m map[string]string
	if err := yaml.Unmarshal(bs, &m); err != nil {
		return fmt.Errorf("expected scalar or mapping node: %w", err)
	}
	s.Value = m["value"]
	return nil
}

func (s *Secret) UnmarshalJSON(bs []byte) error {
	var scalar string
	if err := json.Unmarshal(bs, &scalar); err == nil {
		s.Value = scalar
		return nil
	}

	var m map[string]string
	if err := json.Unmarshal(bs, &m); err != nil {
		return err
	}
	s.Value = m["value"]
	return nil
}

// Decode maps a generic map onto a configuration struct using the json field
// tags, so callers constructing configuration programmatically do not need
// YAML round trips.
func Decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		TagName:     "json",
		Metadata:    nil,
		Result:      output,
		ErrorUnused: true,
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
