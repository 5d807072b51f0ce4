package command

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/hyperlog"
	"go.dedis.ch/hyperlog/cli"
	"go.dedis.ch/hyperlog/core/blocklog"
	"go.dedis.ch/hyperlog/core/blocklog/corestore"
	"go.dedis.ch/hyperlog/core/blocklog/encoding"
	"go.dedis.ch/hyperlog/core/store/kv"
	"go.dedis.ch/hyperlog/crypto/loader"
	"golang.org/x/xerrors"
)

const (
	// StoreName is the name of the database of the store inside the data
	// directory.
	StoreName = "store.db"

	// KeyName is the name of the file holding the primary key of the store.
	KeyName = "primary.key"
)

// action defines the different cli actions of the log commands. Defining
// functions and printer helps in testing the commands.
type action struct {
	printer io.Writer

	readFile     func(path string) ([]byte, error)
	openDB       func(engine, path string) (kv.DB, error)
	context      func() (context.Context, context.CancelFunc)
	serveMetrics func(addr string) (net.Addr, func() error, error)
}

func (a action) appendAction(flags cli.Flags) error {
	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		raw := flags.StringSlice("value")
		values := make([]interface{}, len(raw))

		for i, str := range raw {
			value, err := parseValue(enc, str)
			if err != nil {
				return xerrors.Errorf("value %d: %v", i, err)
			}

			values[i] = value
		}

		res, err := log.Append(ctx, values...)
		if err != nil {
			return xerrors.Errorf("failed to append: %v", err)
		}

		fmt.Fprintf(a.printer, "length=%d byte_length=%d\n", res.Length, res.ByteLength)

		return nil
	})
}

func (a action) getAction(flags cli.Flags) error {
	index, err := uintFlag(flags, "index")
	if err != nil {
		return err
	}

	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		opts := []blocklog.GetOption{blocklog.WithWait(!flags.Bool("nowait"))}

		if flags.Duration("timeout") > 0 {
			opts = append(opts, blocklog.WithGetTimeout(flags.Duration("timeout")))
		}

		value, err := log.Get(ctx, index, opts...)
		if err != nil {
			return xerrors.Errorf("failed to get block %d: %v", index, err)
		}

		return a.printValue(value)
	})
}

func (a action) infoAction(flags cli.Flags) error {
	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		var opts []blocklog.InfoOption
		if flags.Bool("storage") {
			opts = append(opts, blocklog.WithStorageInfo())
		}

		info, err := log.Info(ctx, opts...)
		if err != nil {
			return xerrors.Errorf("failed to read info: %v", err)
		}

		fmt.Fprintf(a.printer, "key: %x\n", info.Key)
		fmt.Fprintf(a.printer, "discovery key: %x\n", info.DiscoveryKey)
		fmt.Fprintf(a.printer, "writable: %t\n", log.Writable())
		fmt.Fprintf(a.printer, "length: %d\n", info.Length)
		fmt.Fprintf(a.printer, "contiguous length: %d\n", info.ContiguousLength)
		fmt.Fprintf(a.printer, "byte length: %d\n", info.ByteLength)
		fmt.Fprintf(a.printer, "fork: %d\n", info.Fork)

		if info.Storage != nil {
			fmt.Fprintf(a.printer, "storage: oplog=%d tree=%d blocks=%d bitfield=%d\n",
				info.Storage.Oplog, info.Storage.Tree, info.Storage.Blocks, info.Storage.Bitfield)
		}

		return nil
	})
}

func (a action) truncateAction(flags cli.Flags) error {
	length, err := uintFlag(flags, "length")
	if err != nil {
		return err
	}

	var opts []blocklog.TruncateOption

	if flags.IsSet("fork") {
		fork, err := uintFlag(flags, "fork")
		if err != nil {
			return err
		}

		opts = append(opts, blocklog.WithFork(fork))
	}

	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		err := log.Truncate(ctx, length, opts...)
		if err != nil {
			return xerrors.Errorf("failed to truncate: %v", err)
		}

		fmt.Fprintf(a.printer, "length=%d fork=%d\n", log.Length(), log.Fork())

		return nil
	})
}

func (a action) treeHashAction(flags cli.Flags) error {
	var lengths []uint64

	if flags.IsSet("length") {
		length, err := uintFlag(flags, "length")
		if err != nil {
			return err
		}

		lengths = append(lengths, length)
	}

	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		hash, err := log.TreeHash(ctx, lengths...)
		if err != nil {
			return xerrors.Errorf("failed to compute tree hash: %v", err)
		}

		fmt.Fprintln(a.printer, hex.EncodeToString(hash))

		return nil
	})
}

func (a action) seekAction(flags cli.Flags) error {
	offset, err := uintFlag(flags, "offset")
	if err != nil {
		return err
	}

	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		index, rel, err := log.Seek(ctx, offset)
		if err != nil {
			return xerrors.Errorf("failed to seek: %v", err)
		}

		fmt.Fprintf(a.printer, "index=%d offset=%d\n", index, rel)

		return nil
	})
}

func (a action) catAction(flags cli.Flags) error {
	opts, err := streamRange(flags)
	if err != nil {
		return err
	}

	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		stream := log.ReadStream(opts...)

		for {
			value, err := stream.Next(ctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return xerrors.Errorf("failed to read block %d: %v", stream.Index(), err)
			}

			err = a.printValue(value)
			if err != nil {
				return err
			}
		}
	})
}

func (a action) tailAction(flags cli.Flags) error {
	addr := flags.String("metrics")
	if addr != "" {
		listening, stop, err := a.serveMetrics(addr)
		if err != nil {
			return xerrors.Errorf("failed to serve metrics: %v", err)
		}

		defer stop()

		hyperlog.Logger.Info().Stringer("addr", listening).Msg("serving metrics")
	}

	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		start := log.Length()

		if flags.IsSet("start") {
			index, err := uintFlag(flags, "start")
			if err != nil {
				return err
			}

			start = index
		}

		stream := log.ReadStream(blocklog.WithStart(start), blocklog.WithLive())

		for {
			value, err := stream.Next(ctx)
			if ctx.Err() != nil {
				// Interrupted.
				return nil
			}
			if err != nil {
				return xerrors.Errorf("failed to read block %d: %v", stream.Index(), err)
			}

			err = a.printValue(value)
			if err != nil {
				return err
			}
		}
	})
}

func (a action) clearAction(flags cli.Flags) error {
	start, err := uintFlag(flags, "start")
	if err != nil {
		return err
	}

	end, err := uintFlag(flags, "end")
	if err != nil {
		return err
	}

	var opts []blocklog.ClearOption
	if flags.Bool("diff") {
		opts = append(opts, blocklog.WithDiff())
	}

	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		res, err := log.Clear(ctx, start, end, opts...)
		if err != nil {
			return xerrors.Errorf("failed to clear: %v", err)
		}

		if res != nil {
			fmt.Fprintf(a.printer, "cleared=%d\n", len(res.Data))
		}

		return nil
	})
}

func (a action) namesAction(flags cli.Flags) error {
	return a.withStore(flags, func(ctx context.Context, cfg config, store *corestore.Store) error {
		names, err := store.Names()
		if err != nil {
			return xerrors.Errorf("failed to list names: %v", err)
		}

		for _, name := range names {
			fmt.Fprintln(a.printer, name)
		}

		return nil
	})
}

func (a action) setUserDataAction(flags cli.Flags) error {
	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		value := []byte(flags.String("value"))
		if flags.Bool("delete") {
			value = nil
		}

		err := log.SetUserData(ctx, flags.String("key"), value)
		if err != nil {
			return xerrors.Errorf("failed to set user data: %v", err)
		}

		return nil
	})
}

func (a action) getUserDataAction(flags cli.Flags) error {
	return a.withLog(flags, func(ctx context.Context, enc encoding.Encoding, log *blocklog.Log) error {
		value, found := log.GetUserData(flags.String("key"))
		if !found {
			return xerrors.Errorf("key '%s' not found", flags.String("key"))
		}

		fmt.Fprintln(a.printer, string(value))

		return nil
	})
}

func (a action) enginesAction(flags cli.Flags) error {
	for _, name := range kv.Engines() {
		fmt.Fprintln(a.printer, name)
	}

	return nil
}

// withStore opens the store of the data directory for the duration of the
// function.
func (a action) withStore(flags cli.Flags,
	fn func(context.Context, config, *corestore.Store) error) (err error) {

	cfg, err := loadConfig(flags, a.readFile)
	if err != nil {
		return err
	}

	enc, err := encoding.Get(cfg.Encoding)
	if err != nil {
		return xerrors.Errorf("invalid encoding: %v", err)
	}

	dir := flags.Path("dir")

	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return xerrors.Errorf("failed to create directory: %v", err)
	}

	keys := loader.NewFileLoader(filepath.Join(dir, KeyName), corestore.PrimaryKeySize)

	primaryKey, err := keys.LoadOrCreate(loader.NewRandomGenerator(corestore.PrimaryKeySize))
	if err != nil {
		return xerrors.Errorf("failed to load primary key: %v", err)
	}

	db, err := a.openDB(cfg.Engine, filepath.Join(dir, StoreName))
	if err != nil {
		return xerrors.Errorf("failed to open database: %v", err)
	}

	defer func() {
		closeErr := db.Close()
		if err == nil && closeErr != nil {
			err = xerrors.Errorf("failed to close database: %v", closeErr)
		}
	}()

	opts := []blocklog.Option{blocklog.WithValueEncoding(enc)}

	if cfg.CacheSize > 0 {
		opts = append(opts, blocklog.WithCacheSize(cfg.CacheSize))
	}

	if cfg.Timeout > 0 {
		opts = append(opts, blocklog.WithTimeout(cfg.Timeout))
	}

	store, err := corestore.New(db, primaryKey, opts...)
	if err != nil {
		return xerrors.Errorf("failed to open store: %v", err)
	}

	ctx, cancel := a.context()
	defer cancel()

	err = fn(ctx, cfg, store)

	closeErr := store.Close(context.Background())
	if err == nil && closeErr != nil {
		err = xerrors.Errorf("failed to close store: %v", closeErr)
	}

	return err
}

// withLog opens the log of the name flag for the duration of the function.
func (a action) withLog(flags cli.Flags,
	fn func(context.Context, encoding.Encoding, *blocklog.Log) error) error {

	return a.withStore(flags, func(ctx context.Context, cfg config, store *corestore.Store) error {
		log, err := store.Get(ctx, flags.String("name"))
		if err != nil {
			return xerrors.Errorf("failed to open log: %v", err)
		}

		err = log.Ready(ctx)
		if err != nil {
			return xerrors.Errorf("failed to open log: %v", err)
		}

		enc, err := encoding.Get(cfg.Encoding)
		if err != nil {
			return xerrors.Errorf("invalid encoding: %v", err)
		}

		return fn(ctx, enc, log)
	})
}

// printValue prints a decoded value on its own line. Bytes are printed in
// hexadecimal.
func (a action) printValue(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		fmt.Fprintln(a.printer, hex.EncodeToString(v))
	case string:
		fmt.Fprintln(a.printer, v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return xerrors.Errorf("failed to format value: %v", err)
		}

		fmt.Fprintln(a.printer, string(data))
	}

	return nil
}

// parseValue converts a command line argument to a value of the encoding.
// Binary values are given in hexadecimal.
func parseValue(enc encoding.Encoding, raw string) (interface{}, error) {
	switch enc.Name() {
	case encoding.Binary:
		data, err := hex.DecodeString(raw)
		if err != nil {
			return nil, xerrors.Errorf("invalid hex: %v", err)
		}

		return data, nil
	case encoding.JSON:
		var value interface{}

		err := json.Unmarshal([]byte(raw), &value)
		if err != nil {
			return nil, xerrors.Errorf("invalid json: %v", err)
		}

		return value, nil
	default:
		return raw, nil
	}
}

func uintFlag(flags cli.Flags, name string) (uint64, error) {
	value := flags.Int(name)
	if value < 0 {
		return 0, xerrors.Errorf("invalid %s: %d", name, value)
	}

	return uint64(value), nil
}

func streamRange(flags cli.Flags) ([]blocklog.StreamOption, error) {
	start, err := uintFlag(flags, "start")
	if err != nil {
		return nil, err
	}

	opts := []blocklog.StreamOption{blocklog.WithStart(start)}

	if flags.IsSet("end") {
		end, err := uintFlag(flags, "end")
		if err != nil {
			return nil, err
		}

		opts = append(opts, blocklog.WithEnd(end))
	}

	return opts, nil
}

// serveMetrics serves the collectors of the module on the address until the
// returned function is called.
func serveMetrics(addr string) (net.Addr, func() error, error) {
	registry := prometheus.NewRegistry()

	for _, c := range hyperlog.PromCollectors {
		err := registry.Register(c)
		if err != nil {
			return nil, nil, xerrors.Errorf("failed to register collector: %v", err)
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to listen: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Handler: mux}

	go func() {
		err := server.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			hyperlog.Logger.Err(err).Msg("metrics server stopped")
		}
	}()

	return ln.Addr(), server.Close, nil
}
