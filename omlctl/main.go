package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/bringyour/omlsync/oml"
)

const DefaultUrl = "ws://localhost:8080"

const LocalVersion = "0.0.0-local"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`OML sync control.

Edit a remote OML tree as a local file. Saving the file sends the changes;
remote changes are written back into the file.

The default url is:
    url: %s

Usage:
    omlctl edit <file> [--url=<url>] [--indent=<indent>] [--format=<format>] [--force] [--v=<level>]
    omlctl serve [--port=<port>] [--tree=<tree>] [--v=<level>]
    omlctl render [--indent=<indent>] [--format=<format>]
    omlctl parse [--format=<format>]
    omlctl -h | --help
    omlctl --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --url=<url>          Websocket url of the remote tree.
    --indent=<indent>    "tab" or a number of spaces [default: 2].
    --format=<format>    Text format, js or yaml [default: js].
    --force              Overwrite <file> without asking.
    -p --port=<port>     Listen port [default: 8080].
    --tree=<tree>        Seed tree, .json or .yaml.
    --v=<level>          Log verbosity [default: 0].`,
		DefaultUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RequireVersion())
	if err != nil {
		panic(err)
	}

	initGlog(opts)

	if edit_, _ := opts.Bool("edit"); edit_ {
		edit(opts)
	} else if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if render_, _ := opts.Bool("render"); render_ {
		render(opts)
	} else if parse_, _ := opts.Bool("parse"); parse_ {
		parse(opts)
	}
}

func initGlog(opts docopt.Opts) {
	flag.Set("logtostderr", "true")
	if level, err := opts.String("--v"); err == nil {
		flag.Set("v", level)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
}

func requireCodec(opts docopt.Opts) (oml.Codec, oml.Indent) {
	format, _ := opts.String("--format")
	codec, err := oml.CodecForFormat(format)
	if err != nil {
		Err.Fatal(err)
	}
	indent := oml.SpacesIndent(2)
	if indentStr, err := opts.String("--indent"); err == nil {
		indent, err = oml.ParseIndent(indentStr)
		if err != nil {
			Err.Fatal(err)
		}
	}
	return codec, indent
}

func edit(opts docopt.Opts) {
	path, _ := opts.String("<file>")
	force, _ := opts.Bool("--force")

	var url string
	if urlAny := opts["--url"]; urlAny != nil {
		url = urlAny.(string)
	} else {
		url = DefaultUrl
	}

	codec, indent := requireCodec(opts)

	if !force {
		if err := confirmOverwrite(path); err != nil {
			Err.Fatal(err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	transport, err := oml.DialWsTransportWithDefaults(ctx, url)
	if err != nil {
		Err.Fatalf("connect %s: %s", url, err)
	}

	session := oml.NewSession(ctx, transport, &oml.SessionSettings{
		Indent: indent,
		Codec:  codec,
	})
	Out.Printf("waiting for %s", url)
	err = session.Run(func(text string) (oml.Buffer, error) {
		buffer, err := oml.OpenFileBufferWithDefaults(ctx, path, text)
		if err != nil {
			return nil, err
		}
		Out.Printf("editing %s", buffer.Path())
		return buffer, nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		Err.Fatal(err)
	}
}

// the file is replaced by the remote tree, so ask first when it already has content
func confirmOverwrite(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("%s exists. Use --force to overwrite it.", path)
	}
	fmt.Printf("%s exists. Overwrite? [y/N] ", path)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return fmt.Errorf("Not overwriting %s.", path)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")

	var root *oml.Node
	if treePath, err := opts.String("--tree"); err == nil && treePath != "" {
		root, err = oml.LoadTree(treePath)
		if err != nil {
			Err.Fatal(err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	settings := oml.DefaultModelServerSettings()
	settings.Version = RequireVersion()
	server := oml.NewModelServer(ctx, root, settings)
	defer server.Close()

	mux := http.NewServeMux()
	mux.Handle("/status", server.StatusHandler())
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	Out.Printf("omlctl %s serving root %s on *:%d", RequireVersion(), server.Root().Id, port)

	go func() {
		defer cancel()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Err.Printf("serve error: %s", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// tree json on stdin to text on stdout
func render(opts docopt.Opts) {
	codec, indent := requireCodec(opts)

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		Err.Fatal(err)
	}
	root, err := oml.ParseNodeJson(data)
	if err != nil {
		Err.Fatal(err)
	}
	text, err := codec.Render(root, indent)
	if err != nil {
		Err.Fatal(err)
	}
	Out.Print(text)
}

// text on stdin to identity-free tree json on stdout
func parse(opts docopt.Opts) {
	codec, _ := requireCodec(opts)

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		Err.Fatal(err)
	}
	root, err := codec.Parse(string(data))
	if err != nil {
		Err.Fatal(err)
	}
	rootJson, err := json.Marshal(root)
	if err != nil {
		Err.Fatal(err)
	}
	var out bytes.Buffer
	json.Indent(&out, rootJson, "", "  ")
	Out.Print(out.String())
}

func RequireVersion() string {
	if version := os.Getenv("OMLSYNC_VERSION"); version != "" {
		return version
	}
	return LocalVersion
}
