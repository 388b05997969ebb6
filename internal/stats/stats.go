package stats

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/CalmLexi/karin-plugin-manage/pkg/errors"
	"github.com/CalmLexi/karin-plugin-manage/pkg/logger"
)

// Version версия бэкенда панели управления
const Version = "1.0.0"

// Ключи счетчиков рантайма бота, значения пишет сам бот по дням
const (
	recvKey = "karin:count:recv"
	sendKey = "karin:count:send"
	fncKey  = "karin:count:fnc"
)

// DayCounts счетчики за один день
type DayCounts struct {
	Recv int64 `json:"recv"`
	Send int64 `json:"send"`
	Fnc  int64 `json:"fnc"`
}

// DayPoint точка 30-дневного ряда
type DayPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// StatusCounts статистика за сегодня и за 30 дней
type StatusCounts struct {
	Today DayCounts             `json:"today"`
	Month map[string][]DayPoint `json:"month"`
}

// Service читает статистику рантайма из Redis и журнал из файла
type Service struct {
	client  *redis.Client
	logFile string
	logger  logger.Logger
}

// NewService создает сервис статистики
func NewService(client *redis.Client, logFile string, log logger.Logger) *Service {
	return &Service{client: client, logFile: logFile, logger: log}
}

// StatusCounts возвращает счетчики сообщений и вызовов функций: за
// сегодняшний день и ряды за последние 30 дней
func (s *Service) StatusCounts(ctx context.Context) (*StatusCounts, error) {
	today := time.Now().Format("2006-01-02")

	var counts DayCounts
	var err error
	if counts.Recv, err = s.counter(ctx, recvKey+":"+today); err != nil {
		return nil, err
	}
	if counts.Send, err = s.counter(ctx, sendKey+":"+today); err != nil {
		return nil, err
	}
	if counts.Fnc, err = s.counter(ctx, fncKey+":"+today); err != nil {
		return nil, err
	}

	month := make(map[string][]DayPoint, 3)
	for name, key := range map[string]string{"recv": recvKey, "send": sendKey, "fnc": fncKey} {
		series, err := s.monthSeries(ctx, key)
		if err != nil {
			return nil, err
		}
		month[name] = series
	}

	return &StatusCounts{Today: counts, Month: month}, nil
}

// monthSeries возвращает значения счетчика за последние 30 дней
func (s *Service) monthSeries(ctx context.Context, key string) ([]DayPoint, error) {
	points := make([]DayPoint, 0, 30)
	for i := 0; i < 30; i++ {
		date := time.Now().AddDate(0, 0, -i).Format("2006-01-02")
		value, err := s.counter(ctx, fmt.Sprintf("%s:%s", key, date))
		if err != nil {
			return nil, err
		}
		points = append(points, DayPoint{Date: date, Value: value})
	}
	return points, nil
}

// counter читает один счетчик, отсутствующий ключ считается нулем
func (s *Service) counter(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to read counter")
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// LogEntry одна запись журнала рантайма
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Logs возвращает последние number записей журнала, отфильтрованных по
// уровню и курсору lastTimestamp (возвращаются только записи новее курсора)
func (s *Service) Logs(number int, level, lastTimestamp string) ([]LogEntry, error) {
	if number <= 0 {
		number = 20
	}

	content, err := os.ReadFile(s.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			return []LogEntry{}, nil
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to read log file")
	}

	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	entries := make([]LogEntry, 0, number)

	// Идем с конца файла, самые свежие записи первыми
	for i := len(lines) - 1; i >= 0 && len(entries) < number; i-- {
		entry, ok := parseLine(lines[i])
		if !ok {
			continue
		}
		if level != "" && !strings.EqualFold(entry.Level, level) {
			continue
		}
		if lastTimestamp != "" && entry.Timestamp <= lastTimestamp {
			break
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// parseLine разбирает строку формата "<timestamp> [<LEVEL>] <message>"
func parseLine(line string) (LogEntry, bool) {
	open := strings.Index(line, "[")
	end := strings.Index(line, "]")
	if open < 0 || end < open {
		return LogEntry{}, false
	}

	return LogEntry{
		Timestamp: strings.TrimSpace(line[:open]),
		Level:     line[open+1 : end],
		Message:   strings.TrimSpace(line[end+1:]),
	}, true
}
