package config

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-media/types"
)

// Parser resolves dotted paths such as "cache.max_size_mb" against the raw
// YAML view of the configuration.
type Parser struct {
	data map[string]interface{}
}

func NewParser(data map[string]interface{}) *Parser {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Parser{data: data}
}

func (p *Parser) GetAs(path string, target interface{}) error {
	value := p.navigateToPath(path)
	if value == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	valueBytes, err := yaml.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to marshal config value")
	}

	if err = yaml.Unmarshal(valueBytes, target); err != nil {
		return types.WrapError(err, "failed to unmarshal config value")
	}

	return nil
}

func (p *Parser) navigateToPath(path string) interface{} {
	if path == "" {
		return p.data
	}

	var current interface{} = p.data

	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[part]
		case map[interface{}]interface{}:
			current = v[part]
		default:
			return nil
		}

		if current == nil {
			return nil
		}
	}

	return current
}
