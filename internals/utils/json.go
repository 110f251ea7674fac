package utils

import (
	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/encoder"
)

func StringifyJSON(v any) (string, error) {
	b, err := encoder.Encode(v, encoder.EscapeHTML)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PrettyJSON re-indents data when it is valid JSON and returns it untouched otherwise.
func PrettyJSON(data string) string {
	var v interface{}
	if err := sonic.UnmarshalString(data, &v); err != nil {
		return data
	}
	b, err := encoder.EncodeIndented(v, "", "  ", encoder.SortMapKeys)
	if err != nil {
		return data
	}
	return string(b)
}

func ParseJSON(data string, v any) error {
	return sonic.UnmarshalString(data, v)
}

func ModelDump(v any) (map[string]interface{}, error) {
	b, err := encoder.Encode(v, encoder.EscapeHTML)
	if err != nil {
		return nil, err
	}
	var dict map[string]interface{}
	if err := sonic.Unmarshal(b, &dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func IndentJSON(v any) (string, error) {
	b, err := encoder.EncodeIndented(v, "", "  ", encoder.SortMapKeys)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
