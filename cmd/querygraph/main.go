package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/hanpama/querygraph/internal/builder"
	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/config"
	"github.com/hanpama/querygraph/internal/document"
	"github.com/hanpama/querygraph/internal/eventbus"
	"github.com/hanpama/querygraph/internal/graph"
	"github.com/hanpama/querygraph/internal/interpreter"
	"github.com/hanpama/querygraph/internal/memstore"
	"github.com/hanpama/querygraph/internal/otel"
	"github.com/hanpama/querygraph/internal/protocol"
	"github.com/hanpama/querygraph/internal/server"
	"github.com/hanpama/querygraph/internal/value"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const rootUsage = `querygraph: query graph engine for SDL data models

USAGE:
  querygraph <command> [flags]

COMMANDS:
  serve            Run the HTTP query endpoint on the in-memory store
  plan             Print the compacted document and query graphs of a request
  help             Show help for any command
`

const configUsage = `  -config <file>                      YAML config file (optional)
  -schema <file>                      SDL datamodel (required)
  -datasource.provider <name>         postgresql, mysql, sqlite, mongodb, ... (default: postgresql)
  -datasource.relationMode <mode>     foreignKeys or prisma (default: prisma for mongodb)
`

const serveUsage = `serve FLAGS:
` + configUsage + `  -fixture <file>                     JSON records keyed by model name
  -server.addr <addr>                 HTTP listen address (default: :8080)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -server.maxBodyBytes N              Request body limit, 0 for none
  -server.corsOrigins <a,b>           Allowed CORS origins
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: querygraph)
Every setting can also be given as QUERYGRAPH_<SECTION>_<KEY>.
`

const planUsage = `plan FLAGS:
` + configUsage + `  -query <graphql>                    Request to plan. Repeat to plan a batch
  -operationName <name>               Operation to pick from a multi-operation query
  -variables <json>                   Variables shared by every request
  -transaction                        Plan the batch as one transaction
  -isolationLevel <level>             Isolation level of the transaction
`

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("querygraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "plan":
		return cmdPlan(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(stdout, serveUsage)
	case "plan":
		fmt.Fprint(stdout, planUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// configFlags registers the settings shared by every command. Flag names are
// config keys, so whatever the user set on the command line becomes an
// override for config.Load.
func configFlags(fs *flag.FlagSet) *string {
	file := fs.String("config", "", "YAML config file")
	fs.String("schema", "", "SDL datamodel")
	fs.String("datasource.provider", "", "Database provider")
	fs.String("datasource.relationMode", "", "foreignKeys or prisma")
	return file
}

func loadConfig(fs *flag.FlagSet, file string, local ...string) (*config.Config, error) {
	skip := map[string]bool{"config": true}
	for _, name := range local {
		skip[name] = true
	}
	overrides := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		if !skip[f.Name] {
			overrides[f.Name] = f.Value.String()
		}
	})
	return config.Load(file, overrides)
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Schema == "" {
		return nil, fmt.Errorf("-schema is required")
	}
	src, err := os.ReadFile(cfg.Schema)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.LoadSDL(cfg.Schema, string(src))
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return cat.SetRelationMode(cfg.Datasource.RelationMode), nil
}

func loadFixture(store *memstore.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fixture structpb.Struct
	if err := protojson.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return store.LoadStruct(&fixture)
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	file := configFlags(fs)
	fs.String("fixture", "", "JSON fixture")
	fs.String("server.addr", "", "HTTP listen address")
	fs.Bool("server.pretty", false, "Pretty-print JSON responses")
	fs.Duration("server.timeout", 0, "Per-request timeout")
	fs.Int64("server.maxBodyBytes", 0, "Request body limit")
	fs.String("server.corsOrigins", "", "Allowed CORS origins")
	fs.String("otel.endpoint", "", "OTLP collector endpoint")
	fs.String("otel.service", "", "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	cfg, err := loadConfig(fs, *file)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	store := memstore.New(cat)
	if cfg.Fixture != "" {
		if err := loadFixture(store, cfg.Fixture); err != nil {
			return fmt.Errorf("load fixture: %w", err)
		}
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	var sopts []server.Option
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if cfg.Server.Timeout > 0 {
		sopts = append(sopts, server.WithTimeout(cfg.Server.Timeout))
	}
	if cfg.Server.MaxBodyBytes > 0 {
		sopts = append(sopts, server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	h := server.New(interpreter.New(cat, store), sopts...)

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	mux.Handle(server.HealthPath, h)

	log.Printf("querygraph listening on %s (%d models, relation mode %s)", cfg.Server.Addr, len(cat.Models()), cat.RelationMode())
	return http.ListenAndServe(cfg.Server.Addr, mux)
}

type plan struct {
	Compacted  *compactedPlan  `json:"compacted,omitempty"`
	Operations []operationPlan `json:"operations"`
}

type compactedPlan struct {
	Field        string           `json:"field"`
	Requests     []map[string]any `json:"requests"`
	Keys         []string         `json:"keys"`
	InjectedKeys []string         `json:"injectedKeys,omitempty"`
}

type operationPlan struct {
	Field string            `json:"field"`
	Kind  string            `json:"kind"`
	Graph graph.Description `json:"graph"`
}

func cmdPlan(args []string) error {
	var queries stringListFlag
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	file := configFlags(fs)
	fs.Var(&queries, "query", "Request to plan")
	operationName := fs.String("operationName", "", "Operation to pick")
	variables := fs.String("variables", "", "Variables as JSON")
	transaction := fs.Bool("transaction", false, "Plan the batch as one transaction")
	isolation := fs.String("isolationLevel", "", "Transaction isolation level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, planUsage)
		return err
	}
	if len(queries) == 0 {
		fmt.Fprint(os.Stderr, planUsage)
		return fmt.Errorf("-query is required")
	}
	cfg, err := loadConfig(fs, *file, "query", "operationName", "variables", "transaction", "isolationLevel")
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprint(os.Stderr, planUsage)
		return err
	}

	var vars map[string]any
	if *variables != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(*variables)))
		dec.UseNumber()
		if err := dec.Decode(&vars); err != nil {
			return fmt.Errorf("decode -variables: %w", err)
		}
	}
	reqs := make([]protocol.Request, len(queries))
	for i, q := range queries {
		reqs[i] = protocol.Request{Query: q, OperationName: *operationName, Variables: vars}
	}

	var doc document.QueryDocument
	if len(reqs) == 1 && !*transaction {
		doc, err = protocol.TranslateDocument(reqs[0])
	} else {
		var tx *document.Transaction
		if *transaction {
			tx = document.NewTransaction(*isolation)
		}
		doc, err = protocol.TranslateBatch(reqs, tx)
	}
	if err != nil {
		return err
	}

	p, err := planDocument(cat, document.DedupOperations(doc))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

func planDocument(cat *catalog.Catalog, doc document.QueryDocument) (*plan, error) {
	b := builder.New(cat)
	var ops []document.Operation
	p := &plan{}
	switch d := doc.(type) {
	case document.Single:
		ops = []document.Operation{d.Operation}
	case document.Multi:
		batch, err := document.Compact(d.Batch, cat)
		if err != nil {
			return nil, err
		}
		switch bd := batch.(type) {
		case document.CompactBatch:
			c := bd.Document
			cp := &compactedPlan{Field: c.PluralName(), Keys: c.Keys, InjectedKeys: c.InjectedKeys()}
			for _, args := range c.Arguments {
				cp.Requests = append(cp.Requests, value.ToGo(value.Object(args)).(map[string]any))
			}
			p.Compacted = cp
			ops = []document.Operation{c.Operation}
		case document.OperationBatch:
			ops = bd.Operations
		}
	}
	for _, op := range ops {
		g, err := b.Build(op)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", document.Name(op), err)
		}
		kind := "read"
		if _, ok := op.(document.Write); ok {
			kind = "write"
		}
		p.Operations = append(p.Operations, operationPlan{Field: document.Name(op), Kind: kind, Graph: g.Describe()})
	}
	return p, nil
}
