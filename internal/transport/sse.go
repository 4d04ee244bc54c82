package transport

import (
	"bufio"
	"io"
	"strings"
)

// Event - одно событие потока доски. Type пуст для событий по умолчанию.
type Event struct {
	Type string
	Data string
}

// SSEScanner читает события Server-Sent Events из io.Reader.
// События разделены пустой строкой; строки "data:" несут полезную
// нагрузку, "event:" задает тип, строки-комментарии ":" пропускаются.
//
//	scanner := NewSSEScanner(body)
//	for scanner.Next() {
//	    event := scanner.Event()
//	}
//	if err := scanner.Err(); err != nil {
//	    ...
//	}
type SSEScanner struct {
	reader  *bufio.Reader
	current Event
	err     error
}

func NewSSEScanner(reader io.Reader) *SSEScanner {
	return &SSEScanner{
		reader: bufio.NewReaderSize(reader, 64*1024),
	}
}

// Next переходит к следующему событию. Возвращает false в конце потока
// или при ошибке; Err различает эти случаи.
func (scanner *SSEScanner) Next() bool {
	if scanner.err != nil {
		return false
	}
	scanner.current = Event{}

	var dataLines []string
	var eventType string
	hasData := false

	for {
		line, err := scanner.reader.ReadString('\n')

		// Последняя строка без перевода строки перед EOF
		if err != nil && line == "" {
			scanner.err = err
			if err == io.EOF && hasData {
				scanner.current = Event{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		// Пустая строка - граница события
		if line == "" {
			if hasData {
				scanner.current = Event{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		}
	}
}

func (scanner *SSEScanner) Event() Event {
	return scanner.current
}

// Err возвращает nil, если поток закончился чистым EOF
func (scanner *SSEScanner) Err() error {
	if scanner.err == io.EOF {
		return nil
	}
	return scanner.err
}
