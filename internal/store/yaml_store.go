package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/CalmLexi/karin-plugin-manage/internal/domain"
	pkgerrors "github.com/CalmLexi/karin-plugin-manage/pkg/errors"
)

// YamlStore реализация RecordStore на YAML-файле. Правки выполняются на
// уровне узлов документа, комментарии и порядок записей сохраняются.
// Запись в файл выполняется под эксклюзивной файловой блокировкой
type YamlStore struct {
	path       string
	legacyPath string
	flk        *flock.Flock
}

// NewYamlStore создает хранилище для заданного файла. legacyPath указывает
// на конфиг старого формата, который мигрируется при первом обращении
func NewYamlStore(path, legacyPath string) *YamlStore {
	return &YamlStore{
		path:       path,
		legacyPath: legacyPath,
		flk:        flock.New(path + ".lock"),
	}
}

// ReadAll возвращает все записи из файла
func (s *YamlStore) ReadAll() ([]domain.UserRecord, error) {
	if err := s.ensureFile(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to read user file")
	}

	var records []domain.UserRecord
	if err := yaml.Unmarshal(content, &records); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to parse user file")
	}

	if records == nil {
		records = []domain.UserRecord{}
	}
	return records, nil
}

// Append добавляет запись в конец списка
func (s *YamlStore) Append(rec domain.UserRecord) error {
	if err := s.ensureFile(); err != nil {
		return err
	}

	return s.withLock(func() error {
		doc, err := s.loadDocument()
		if err != nil {
			return err
		}

		node, err := recordNode(rec)
		if err != nil {
			return err
		}

		seq := doc.Content[0]
		seq.Content = append(seq.Content, node)

		return s.saveDocument(doc)
	})
}

// UpdateField заменяет поле записи с заданным username. Остальные записи
// и поля, включая комментарии, не затрагиваются
func (s *YamlStore) UpdateField(username, field string, value interface{}) error {
	if err := s.ensureFile(); err != nil {
		return err
	}

	return s.withLock(func() error {
		doc, err := s.loadDocument()
		if err != nil {
			return err
		}

		entry := findEntry(doc.Content[0], username)
		if entry == nil {
			// Неизвестный username не является ошибкой
			return nil
		}

		valueNode, err := scalarOrSequence(value)
		if err != nil {
			return err
		}

		setField(entry, field, valueNode)
		return s.saveDocument(doc)
	})
}

// withLock выполняет fn под эксклюзивной файловой блокировкой
func (s *YamlStore) withLock(fn func() error) error {
	if err := s.flk.Lock(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to lock user file")
	}
	defer s.flk.Unlock()
	return fn()
}

// ensureFile лениво создает файл, при наличии конфига старого формата
// переносит данные из него
func (s *YamlStore) ensureFile() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to stat user file")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to create data directory")
	}

	content := s.migrateLegacy()
	if err := os.WriteFile(s.path, content, 0644); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to create user file")
	}
	return nil
}

// migrateLegacy возвращает содержимое для нового файла: список записей из
// старого конфига, если он существует и разбирается, иначе пустой файл
func (s *YamlStore) migrateLegacy() []byte {
	if s.legacyPath == "" {
		return nil
	}
	content, err := os.ReadFile(s.legacyPath)
	if err != nil {
		return nil
	}

	var records []domain.UserRecord
	if err := yaml.Unmarshal(content, &records); err == nil && len(records) > 0 {
		return content
	}

	// Старый формат хранил одну учетную запись объектом
	var single domain.UserRecord
	if err := yaml.Unmarshal(content, &single); err == nil && single.Username != "" {
		migrated, err := yaml.Marshal([]domain.UserRecord{single})
		if err == nil {
			return migrated
		}
	}

	return nil
}

// loadDocument разбирает файл в документ yaml с корневым списком
func (s *YamlStore) loadDocument() (*yaml.Node, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to read user file")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to parse user file")
	}

	// Пустой файл дает пустой документ, создаем корневой список
	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.SequenceNode, Tag: "!!seq"}},
		}
	}

	if doc.Content[0].Kind != yaml.SequenceNode {
		return nil, pkgerrors.New(pkgerrors.ErrStoreUnavailable, "user file root is not a list")
	}

	return &doc, nil
}

// saveDocument сериализует документ обратно в файл
func (s *YamlStore) saveDocument(doc *yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to encode user file")
	}
	if err := enc.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to encode user file")
	}

	if err := os.WriteFile(s.path, buf.Bytes(), 0644); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to write user file")
	}
	return nil
}

// recordNode превращает запись в yaml-узел через промежуточную сериализацию
func recordNode(rec domain.UserRecord) (*yaml.Node, error) {
	raw, err := yaml.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to build record node: %w", err)
	}

	return doc.Content[0], nil
}

// findEntry ищет в списке отображение, у которого поле username совпадает
func findEntry(seq *yaml.Node, username string) *yaml.Node {
	for _, entry := range seq.Content {
		if entry.Kind != yaml.MappingNode {
			continue
		}
		for i := 0; i+1 < len(entry.Content); i += 2 {
			if entry.Content[i].Value == "username" && entry.Content[i+1].Value == username {
				return entry
			}
		}
	}
	return nil
}

// setField заменяет значение поля в отображении, добавляет поле при отсутствии
func setField(entry *yaml.Node, field string, value *yaml.Node) {
	for i := 0; i+1 < len(entry.Content); i += 2 {
		if entry.Content[i].Value == field {
			entry.Content[i+1] = value
			return
		}
	}
	entry.Content = append(entry.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: field},
		value,
	)
}

// scalarOrSequence строит yaml-узел для строки или списка строк
func scalarOrSequence(value interface{}) (*yaml.Node, error) {
	switch v := value.(type) {
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}, nil
	case []string:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: item})
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("unsupported field value type %T", value)
	}
}
