package repository

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// encodeFields はフィールドをJSONにエンコードする。nilは空オブジェクトとして扱う。
func encodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document fields: %w", err)
	}
	return b, nil
}

func decodeFields(raw []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedDocument, err)
	}
	return fields, nil
}

// normalizeFields はJSONを往復させ、PostgreSQLから読み出した場合と同じ型表現に揃える。
func normalizeFields(fields map[string]any) (map[string]any, error) {
	raw, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	return decodeFields(raw)
}

func normalizeValue(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode query value: %w", err)
	}
	return out, nil
}
