package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Event 是一帧 SSE 消息，零值字段不输出。
type Event struct {
	ID            string
	Name          string
	ReconnectTime time.Duration
	Comment       string
	// Data 为 string/[]byte 时按文本输出，多行会拆成多条 data:；
	// 其他类型编码成单行 JSON。
	Data any
}

// Format 按固定顺序生成一帧：comment, event, data, id, retry, 空行。
func Format(ev Event) ([]byte, error) {
	var buf bytes.Buffer

	if ev.Comment != "" {
		buf.WriteString(": " + ev.Comment + "\n")
	}

	if ev.Name != "" {
		buf.WriteString("event: " + ev.Name + "\n")
	}

	if ev.Data != nil {
		data, err := formatData(ev.Data)
		if err != nil {
			return nil, err
		}
		buf.WriteString("data: " + data + "\n")
	}

	if ev.ID != "" {
		buf.WriteString("id: " + ev.ID + "\n")
	}

	if ev.ReconnectTime > 0 {
		buf.WriteString("retry: " + strconv.FormatInt(ev.ReconnectTime.Milliseconds(), 10) + "\n")
	}

	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// Encode 把一帧写到 w。
func Encode(w io.Writer, ev Event) error {
	frame, err := Format(ev)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func formatData(data any) (string, error) {
	switch v := data.(type) {
	case string:
		return strings.ReplaceAll(v, "\n", "\ndata: "), nil
	case []byte:
		return strings.ReplaceAll(string(v), "\n", "\ndata: "), nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		// 与浏览器端 JSON.stringify 保持一致，不转义 <>&。
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return "", fmt.Errorf("encode sse data: %w", err)
		}
		return strings.TrimSuffix(buf.String(), "\n"), nil
	}
}
