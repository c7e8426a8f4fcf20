// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver.
)

// Level defines log level.
type Level uint8

// Logging constants, numbered to match ffmpeg's own level ordering — a
// familiar scale for filtering even though this core has no ffmpeg process.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMillisecond is a timestamp in microseconds since the Unix epoch
// (UnixNano()/1000), as Event.Time and the level constructors store it.
type UnixMillisecond uint64

// Event is a log entry under construction.
type Event struct {
	level  Level
	time   UnixMillisecond
	src    string
	camera string

	logger *Logger
}

// Log is a finished log entry.
type Log struct {
	Level  Level
	Time   UnixMillisecond
	Msg    string
	Src    string
	Camera string
}

// Src sets the event's source component.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Camera sets the event's camera short name.
func (e *Event) Camera(shortName string) *Event {
	e.camera = shortName
	return e
}

// Time overrides the event's timestamp.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMillisecond(t.UnixNano() / 1000)
	return e
}

// Msg sends the event with msg as its message.
func (e *Event) Msg(msg string) {
	e.logger.feed <- Log{
		Time:   e.time,
		Level:  e.level,
		Msg:    msg,
		Src:    e.src,
		Camera: e.camera,
	}
}

// Msgf sends the event with a formatted message.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed is a read-only stream of log entries.
type Feed <-chan Log
type logFeed chan Log

// Logger fans log entries out to subscribers and, optionally, to a SQLite
// sink.
type Logger struct {
	feed  logFeed
	sub   chan logFeed
	unsub chan logFeed

	wg     *sync.WaitGroup
	db     *sql.DB
	dbPath string
}

// NewLogger returns a Logger backed by the SQLite database at dbPath,
// creating it if necessary.
func NewLogger(dbPath string, wg *sync.WaitGroup) (*Logger, error) {
	if err := checkDB(dbPath); err != nil {
		return nil, err
	}
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),

		wg:     wg,
		dbPath: dbPath,
	}, nil
}

// NewMockLogger returns a Logger with no database, for tests.
func NewMockLogger() *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		wg:    &sync.WaitGroup{},
	}
}

const dbAPIversion = 1

func checkDB(dbPath string) error {
	if !dirExist(dbPath) {
		return createDB(dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("log: open database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("PRAGMA user_version;")
	if err != nil {
		return err
	}
	defer rows.Close()

	var version int
	rows.Next()
	if err = rows.Scan(&version); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if version != dbAPIversion {
		return fmt.Errorf("log: invalid database version: %v", dbPath)
	}
	return nil
}

func createDB(dbPath string) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("log: create database: %w", err)
	}
	defer db.Close()

	sqlStmt := "create table logs (" +
		"time INTEGER not null," +
		" level INTEGER not null," +
		" src TEXT not null," +
		" camera TEXT," +
		" msg TEXT not null);"

	if _, err = db.Exec(sqlStmt); err != nil {
		return fmt.Errorf("log: create table: %w", err)
	}

	if _, err = db.Exec("PRAGMA user_version = " + strconv.Itoa(dbAPIversion)); err != nil {
		return fmt.Errorf("log: set database api version: %w", err)
	}
	return nil
}

// Start opens the database and begins the fan-out goroutine.
func (l *Logger) Start(ctx context.Context) error {
	db, err := sql.Open("sqlite3", l.dbPath)
	if err != nil {
		return fmt.Errorf("log: open database: %w", err)
	}
	l.db = db

	l.wg.Add(1)
	go func() {
		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				db.Close()
				l.wg.Done()
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case msg := <-l.feed:
				for ch := range subs {
					ch <- msg
				}
			}
		}
	}()
	return nil
}

// CancelFunc cancels a log feed subscription.
type CancelFunc func()

// Subscribe returns a channel of log entries and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	l.sub <- feed

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		}
	}
}

// LogToStdout prints every log entry to stdout until ctx is canceled.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry := <-feed:
			printLog(entry)
		case <-ctx.Done():
			return
		}
	}
}

func printLog(entry Log) {
	var output string

	switch entry.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if entry.Camera != "" {
		output += entry.Camera + ": "
	}
	if entry.Src != "" {
		output += strings.Title(entry.Src) + ": " //nolint:staticcheck // title-case source tag
	}

	output += entry.Msg
	fmt.Println(output)
}

// LogToDB persists every log entry to SQLite until ctx is canceled.
func (l *Logger) LogToDB(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry := <-feed:
			if err := saveLogToDB(entry, l.db); err != nil {
				fmt.Fprintf(os.Stderr, "could not save log: %v %v", entry.Msg, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

const maxRows = "100000"

func saveLogToDB(entry Log, db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("log: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insertStmt, err := tx.Prepare("insert into logs(time, level, src, camera, msg) values(?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("log: prepare insert: %w", err)
	}
	defer insertStmt.Close()

	if _, err = insertStmt.Exec(entry.Time, entry.Level, entry.Src, entry.Camera, entry.Msg); err != nil {
		return fmt.Errorf("log: exec insert: %w", err)
	}

	sqlStmt := "DELETE FROM logs WHERE NOT rowid IN " +
		"(SELECT rowid FROM `logs` ORDER BY `time` DESC LIMIT " + maxRows + ");"
	if _, err = tx.Exec(sqlStmt); err != nil {
		return fmt.Errorf("log: prune: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("log: commit: %w", err)
	}
	return nil
}

// Error starts a new error-level event. Call Msg/Msgf to send it.
func (l *Logger) Error() *Event {
	return &Event{level: LevelError, time: nowMs(), logger: l}
}

// Warn starts a new warning-level event. Call Msg/Msgf to send it.
func (l *Logger) Warn() *Event {
	return &Event{level: LevelWarning, time: nowMs(), logger: l}
}

// Info starts a new info-level event. Call Msg/Msgf to send it.
func (l *Logger) Info() *Event {
	return &Event{level: LevelInfo, time: nowMs(), logger: l}
}

// Debug starts a new debug-level event. Call Msg/Msgf to send it.
func (l *Logger) Debug() *Event {
	return &Event{level: LevelDebug, time: nowMs(), logger: l}
}

func nowMs() UnixMillisecond {
	return UnixMillisecond(time.Now().UnixNano() / 1000)
}

func dirExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
