// Package codec реализует формат записей доски:
//
//	post-<index>-{"title"_"<title>"|"post"_"<body>"}
//
// Это JSON, в котором запятая между полями заменена на "|", а двоеточие
// на "_", потому что запятая разделяет записи внутри пакета.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ButyrinIA/feedsync/internal/models"
)

const (
	recordSep   = ","
	fieldSep    = "-"
	headerSep   = "::"
	pairSep     = "|"
	keyValueSep = "_"
)

var (
	ErrMalformedRecord   = errors.New("malformed record")
	ErrReservedCharacter = errors.New("reserved character in record text")
)

// reserved не экранируются форматом
const reserved = `|_-,"\`

// MalformedRecordError описывает запись пакета, которую не удалось разобрать
type MalformedRecordError struct {
	Position int
	Record   string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %d %q: %s", e.Position, e.Record, e.Reason)
}

func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// Encode кодирует пост в запись. Текст с зарезервированными символами
// отклоняется, так как его нельзя декодировать обратно.
func Encode(post models.Post) (string, error) {
	if err := validateIndex(post.Index); err != nil {
		return "", err
	}
	if err := checkText("title", post.Title); err != nil {
		return "", err
	}
	if err := checkText("post", post.Body); err != nil {
		return "", err
	}
	return fmt.Sprintf(`%s-{"title"_"%s"|"post"_"%s"}`, post.Slot(), post.Title, post.Body), nil
}

// DeleteToken строит усеченную запись без тела и закрывающей скобки,
// которой сервер опознает удаляемый пост.
func DeleteToken(prefix, index, title string) string {
	if prefix == "" {
		prefix = models.RecordPrefix
	}
	return fmt.Sprintf(`%s-%s-{"title"_"%s"`, prefix, index, title)
}

// Decode разбирает одну запись
func Decode(record string) (models.Post, error) {
	parts := strings.Split(record, fieldSep)
	if len(parts) != 3 {
		return models.Post{}, fmt.Errorf("expected 3 %q-separated fields, got %d: %w", fieldSep, len(parts), ErrMalformedRecord)
	}
	if parts[0] == "" {
		return models.Post{}, fmt.Errorf("empty record prefix: %w", ErrMalformedRecord)
	}
	if err := validateIndex(parts[1]); err != nil {
		return models.Post{}, fmt.Errorf("%v: %w", err, ErrMalformedRecord)
	}

	raw := strings.NewReplacer(pairSep, ",", keyValueSep, ":").Replace(parts[2])
	fields, err := decodePayload(raw)
	if err != nil {
		return models.Post{}, fmt.Errorf("invalid payload: %v: %w", err, ErrMalformedRecord)
	}

	return models.Post{
		Prefix: parts[0],
		Index:  parts[1],
		Title:  fields["title"],
		Body:   fields["post"],
	}, nil
}

// decodePayload читает объект ровно с ключами "title" и "post" (строки,
// регистр ключей учитывается, повторы запрещены).
func decodePayload(raw string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, errors.New("expected object")
	}

	fields := make(map[string]string, 2)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		if key != "title" && key != "post" {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate key %q", key)
		}

		tok, err = dec.Token()
		if err != nil {
			return nil, err
		}
		value, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", key)
		}
		fields[key] = value
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, errors.New("unterminated object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after object")
	}
	if len(fields) != 2 {
		return nil, errors.New("payload must carry title and post")
	}
	return fields, nil
}

// ParseHeader разбирает нулевой элемент пакета. Текст выводится как есть,
// Marker - часть до "::".
func ParseHeader(element string) models.Header {
	marker, detail, _ := strings.Cut(element, headerSep)
	return models.Header{Text: element, Marker: marker, Detail: detail}
}

// Batch - результат разбора пакета ленты
type Batch struct {
	Header models.Header
	Posts  []models.Post
	Errors []error
}

// ParseBatch разбирает пакет. Ошибочная запись пропускается, ошибка
// попадает в Batch.Errors, разбор продолжается.
func ParseBatch(raw string) Batch {
	elements := strings.Split(raw, recordSep)
	// сервер завершает пакет запятой
	if n := len(elements); n > 1 && elements[n-1] == "" {
		elements = elements[:n-1]
	}

	batch := Batch{Header: ParseHeader(elements[0])}
	for i, element := range elements[1:] {
		post, err := Decode(element)
		if err != nil {
			batch.Errors = append(batch.Errors, &MalformedRecordError{
				Position: i + 1,
				Record:   element,
				Reason:   err.Error(),
			})
			continue
		}
		batch.Posts = append(batch.Posts, post)
	}
	return batch
}

// ParseKey разбирает ключ отображения <prefix>-<index>-<title>
func ParseKey(key string) (prefix, index, title string, err error) {
	parts := strings.Split(key, fieldSep)
	if len(parts) != 3 || parts[0] == "" {
		return "", "", "", fmt.Errorf("invalid post key %q", key)
	}
	if err := validateIndex(parts[1]); err != nil {
		return "", "", "", fmt.Errorf("invalid post key %q: %w", key, err)
	}
	return parts[0], parts[1], parts[2], nil
}

func validateIndex(index string) error {
	if index == "" {
		return errors.New("empty index")
	}
	for _, r := range index {
		if r < '0' || r > '9' {
			return fmt.Errorf("index %q is not decimal", index)
		}
	}
	return nil
}

func checkText(field, text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%s is not valid UTF-8: %w", field, ErrReservedCharacter)
	}
	for _, r := range text {
		if strings.ContainsRune(reserved, r) || unicode.IsControl(r) {
			return fmt.Errorf("%s contains %q: %w", field, r, ErrReservedCharacter)
		}
	}
	return nil
}
