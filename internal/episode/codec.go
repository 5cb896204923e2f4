package episode

import "encoding/json"

// The store keeps steps, tools_used, and metadata as JSON text in single
// TEXT columns. Empty collections encode as "[]" / "{}" rather than NULL so
// that decode(encode(x)) round-trips exactly.

func encodeSteps(steps []Step) (string, error) {
	if steps == nil {
		steps = []Step{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeSteps(data string) ([]Step, error) {
	steps := []Step{}
	if err := json.Unmarshal([]byte(data), &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func encodeTools(tools []string) (string, error) {
	if tools == nil {
		tools = []string{}
	}
	data, err := json.Marshal(tools)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTools(data string) ([]string, error) {
	tools := []string{}
	if err := json.Unmarshal([]byte(data), &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetadata(data string) (map[string]any, error) {
	meta := map[string]any{}
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
