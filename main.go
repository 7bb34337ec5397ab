package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xgzlucario/redview/internal/conn"
	"github.com/xgzlucario/redview/internal/loop"
	"github.com/xgzlucario/redview/internal/model"
	"github.com/xgzlucario/redview/internal/session"
)

var logger = zerolog.
	New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
	With().
	Timestamp().
	Logger()

func main() {
	flags := pflag.NewFlagSet("redview", pflag.ExitOnError)
	configFile := flags.StringP("config", "c", defaultConfigFileName, "config file path.")
	flags.Int("db", 0, "database of the key to view.")
	flags.StringP("key", "k", "", "key to view.")
	flags.StringSlice("memory", nil, "keys to sum the memory usage of.")
	_ = flags.Parse(os.Args[1:])

	_ = viper.BindPFlag("view.db", flags.Lookup("db"))
	_ = viper.BindPFlag("view.key", flags.Lookup("key"))
	_ = viper.BindPFlag("view.memory_keys", flags.Lookup("memory"))

	if err := initConfig(*configFile); err != nil {
		logger.Fatal().Msgf("init config error: %v", err)
	}
	logger = logger.Level(configGetLogLevel())

	if err := run(os.Stdout); err != nil {
		logger.Fatal().Msgf("%v", err)
	}
}

// await posts fn to the loop and blocks until its callback fires.
func await[T any](l *loop.Loop, fn func(cb func(T, error))) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	l.Post(func() {
		fn(func(v T, err error) { ch <- result{v, err} })
	})
	res := <-ch
	return res.v, res.err
}

func run(w io.Writer) error {
	pageSize := configGetInt64("scan.page_size")
	if pageSize <= 0 {
		return errInvalidPageSize
	}
	db := configGetInt("view.db")
	if db < 0 {
		return errInvalidDB
	}

	l := loop.New()
	go l.Run()
	defer l.Stop()

	s := session.New(l, conn.NewConnection(l, configGetConnOptions(logger)), configGetSessionConfig(logger), nil)
	defer s.Close()

	dbs, err := await(l, func(cb func(*conn.DatabaseList, error)) {
		s.GetDatabases(cb)
	})
	if err != nil {
		return err
	}
	printDatabases(w, s.Mode(), dbs)

	if key := configGetString("view.key"); key != "" {
		if err := viewKey(w, l, s, db, key, pageSize); err != nil {
			return err
		}
	}

	if keys := configGetStrings("view.memory_keys"); len(keys) > 0 {
		total, err := await(l, func(cb func(int64, error)) {
			s.GetUsedMemory(keys, db, cb, nil)
		})
		if err != nil {
			logger.Warn().Msgf("memory usage incomplete: %v", err)
		}
		fmt.Fprintf(w, "memory used by %d keys: %s\n", len(keys), humanize.IBytes(uint64(max(total, 0))))
	}
	return nil
}

func printDatabases(w io.Writer, mode string, dbs *conn.DatabaseList) {
	fmt.Fprintf(w, "%s server, %d databases\n", mode, dbs.Len())
	dbs.Range(func(index int, keys int64) bool {
		fmt.Fprintf(w, "  db%d\t%s keys\n", index, humanize.Comma(keys))
		return true
	})
}

// viewKey prints the first page of key as a table.
func viewKey(w io.Writer, l *loop.Loop, s *session.Session, db int, key string, pageSize int64) error {
	m, err := await(l, func(cb func(model.KeyModel, error)) {
		s.OpenKey(db, key, cb)
	})
	if err != nil {
		return fmt.Errorf("open key %q: %w", key, err)
	}
	loaded, err := await(l, func(cb func(int, error)) {
		m.LoadRows(0, min(pageSize, max(m.RowsCount(), 1)), cb)
	})
	if err != nil {
		return fmt.Errorf("load key %q: %w", key, err)
	}

	// the model is owned by the loop, read everything there
	var (
		typ        string
		columns    []string
		count, ttl int64
		rows       [][]string
	)
	l.Sync(func() {
		typ, columns = m.Type(), m.ColumnNames()
		count, ttl = m.RowsCount(), m.TTL()
		for i := int64(0); i < int64(loaded); i++ {
			var row []string
			for _, col := range columns {
				v, _ := m.GetData(i, col)
				row = append(row, fmt.Sprint(v))
			}
			rows = append(rows, row)
		}
	})

	fmt.Fprintf(w, "%s %q in db%d, %d rows, ttl %d\n", typ, key, db, count, ttl)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
