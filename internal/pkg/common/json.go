package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ParseJSONBytes 解析 JSON 位元組切片到結構體，數字保留為 json.Number
func ParseJSONBytes(data []byte, v interface{}) error {
	return decodeJSON(bytes.NewReader(data), v)
}

func decodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		return err
	}

	// 確保沒有多餘資料
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected extra JSON data")
	}
	return nil
}
