package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/saiset-co/sai-media/types"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

func Marshal(data interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() < 16*1024 {
			bufferPool.Put(buf)
		}
	}()

	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	// Encoder appends a newline.
	out := bytes.TrimRight(buf.Bytes(), "\n")
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalConfig re-decodes a loosely typed config section (as produced by
// yaml.v3 into interface{}) into target.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigDefault.Marshal(normalize(config))
	if err != nil {
		return err
	}

	return sonic.ConfigDefault.Unmarshal(configBytes, target)
}

// normalize turns map[interface{}]interface{} nodes into string keyed maps so
// they can be encoded as JSON objects.
func normalize(v interface{}) interface{} {
	switch node := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, val := range node {
			if key, ok := k.(string); ok {
				out[key] = normalize(val)
			}
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, val := range node {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, val := range node {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
