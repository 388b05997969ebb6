package plugincfg

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/CalmLexi/karin-plugin-manage/pkg/errors"
	"github.com/CalmLexi/karin-plugin-manage/pkg/logger"
)

// KV одно запрошенное изменение конфигурации
type KV struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// Change примененное изменение: старое и новое значение ключа
type Change struct {
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
	Change interface{} `json:"change"`
}

// Service читает и правит конфигурационные YAML-файлы плагинов.
// Правки выполняются на уровне узлов, комментарии в файлах сохраняются
type Service struct {
	dir    string
	logger logger.Logger
}

// NewService создает сервис для заданного каталога конфигураций
func NewService(dir string, log logger.Logger) *Service {
	return &Service{dir: dir, logger: log}
}

// List возвращает имена доступных конфигурационных файлов
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to list plugin configs")
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Get возвращает содержимое конфигурационного файла
func (s *Service) Get(name string) (map[string]interface{}, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to read plugin config")
	}

	var config map[string]interface{}
	if err := yaml.Unmarshal(content, &config); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to parse plugin config")
	}
	if config == nil {
		config = map[string]interface{}{}
	}
	return config, nil
}

// Set применяет изменения к файлу. Ключи задаются через точку
// (server.http.port). Возвращает список реально изменившихся значений,
// если ни одно значение не изменилось - ошибку NO_CHANGE
func (s *Service) Set(name string, changes []KV) ([]Change, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to read plugin config")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to parse plugin config")
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, pkgerrors.New(pkgerrors.ErrStoreUnavailable, "plugin config root is not a mapping")
	}

	var applied []Change
	for _, change := range changes {
		valueNode := findPath(doc.Content[0], strings.Split(change.Key, "."))
		if valueNode == nil {
			continue
		}

		newValue := renderScalar(change.Value)
		if valueNode.Kind == yaml.ScalarNode && valueNode.Value != newValue {
			applied = append(applied, Change{
				Key:    change.Key,
				Value:  valueNode.Value,
				Change: newValue,
			})
			valueNode.Value = newValue
			// Тег сбрасывается, чтобы тип перечитался из нового значения
			valueNode.Tag = ""
			valueNode.Style = 0
		}
	}

	if len(applied) == 0 {
		return nil, pkgerrors.New(pkgerrors.ErrNoChange, "no effective changes")
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to encode plugin config")
	}
	if err := enc.Close(); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to encode plugin config")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to write plugin config")
	}

	s.logger.Info("plugin config updated",
		logger.String("file", name),
		logger.Int("changes", len(applied)))
	return applied, nil
}

// resolve проверяет, что имя указывает на существующий файл из списка,
// и возвращает его полный путь
func (s *Service) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", pkgerrors.New(pkgerrors.ErrValidation, "invalid config file name")
	}

	names, err := s.List()
	if err != nil {
		return "", err
	}
	for _, known := range names {
		if known == name {
			return filepath.Join(s.dir, name), nil
		}
	}
	return "", pkgerrors.New(pkgerrors.ErrNotFound, "plugin config not found")
}

// findPath спускается по вложенным отображениям по сегментам ключа
func findPath(node *yaml.Node, segments []string) *yaml.Node {
	current := node
	for _, segment := range segments {
		if current.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(current.Content); i += 2 {
			if current.Content[i].Value == segment {
				next = current.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		current = next
	}
	return current
}

// renderScalar приводит значение из JSON-запроса к строковому виду yaml
func renderScalar(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		// JSON числа приходят как float64, целые выводим без дробной части
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
