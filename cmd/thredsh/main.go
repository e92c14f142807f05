/* Copyright 2025 RBurson Acme, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// A simple, single-process shell that reads Events from stdin and
// writes routed messages to stdout.
//
// Lines starting with '{' are JSON Events.  Everything else is a
// command:
//
//	load FILENAME        load patterns (YAML or JSON)
//	threds               list active thred ids
//	terminate ID         terminate one thred
//	terminate-all        terminate every active thred
//	quit
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/rburson-acme/new-rules-sub003/core"
	"github.com/rburson-acme/new-rules-sub003/expiry"
	"github.com/rburson-acme/new-rules-sub003/interpreters"
	"github.com/rburson-acme/new-rules-sub003/queue"
	"github.com/rburson-acme/new-rules-sub003/record"
	recsqlite "github.com/rburson-acme/new-rules-sub003/record/sqlite"
	"github.com/rburson-acme/new-rules-sub003/routing"
	"github.com/rburson-acme/new-rules-sub003/storage"
	"github.com/rburson-acme/new-rules-sub003/storage/bolt"
	"github.com/rburson-acme/new-rules-sub003/storage/inmem"
	"github.com/rburson-acme/new-rules-sub003/util"
)

// printQueue writes every pushed message to stdout.
type printQueue struct{}

func (q printQueue) Push(ctx context.Context, m *queue.Message) error {
	bs, err := json.Marshal(m)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", bs)
	return nil
}

func (q printQueue) Pop(ctx context.Context, topic string) (*queue.Message, error) {
	return nil, fmt.Errorf("printQueue cannot Pop")
}

func (q printQueue) Delete(ctx context.Context, m *queue.Message) error  { return nil }
func (q printQueue) Requeue(ctx context.Context, m *queue.Message) error { return q.Push(ctx, m) }
func (q printQueue) Reject(ctx context.Context, m *queue.Message) error  { return q.Push(ctx, m) }
func (q printQueue) Close() error                                        { return nil }

func main() {

	var (
		patternsFilename = flag.String("p", "", "initial patterns filename (YAML or JSON)")
		boltFilename     = flag.String("b", "", "optional bolt database filename (default in-memory)")
		auditFilename    = flag.String("audit", "", "optional sqlite audit database filename")
		services         = flag.String("services", "", "comma-separated service names for the registry")
		verbose          = flag.Bool("v", false, "verbosity")
	)

	flag.Parse()
	util.Verbose = *verbose

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		store storage.Storage
		locks storage.Locks
	)
	if *boltFilename == "" {
		s := inmem.NewStorage()
		store, locks = s, s
	} else {
		s := bolt.NewStorage(*boltFilename)
		if err := s.Open(); err != nil {
			log.Fatal(err)
		}
		defer s.Close()
		store, locks = s, s
	}

	var recorder core.Recorder = record.Discard{}
	if *auditFilename != "" {
		s, err := recsqlite.NewStore(*auditFilename)
		if err != nil {
			log.Fatal(err)
		}
		defer s.Close()
		recorder = s
	}

	registry := routing.NewRegistry()
	for _, svc := range strings.Split(*services, ",") {
		if svc = strings.TrimSpace(svc); svc != "" {
			registry.AddService(svc)
		}
	}

	patterns := core.NewPatternStore()
	interps := interpreters.Standard()

	engine := core.NewEngine(patterns, store, storage.NewLockManager(locks))
	engine.Router = routing.NewRouter(registry, printQueue{})
	engine.Recorder = recorder
	engine.Logf = util.Logf

	monitor := expiry.NewMonitor(func(ctx context.Context, thredId, reaction string) {
		o, err := engine.Expire(ctx, thredId, reaction)
		if err != nil {
			log.Printf("expire error %v thred=%s", err, thredId)
			return
		}
		if o != nil {
			fmt.Printf("%s\n", render(o))
		}
	})
	monitor.Logf = util.Logf
	defer monitor.Shutdown()
	engine.Timers = monitor

	load := func(filename string) error {
		bs, err := os.ReadFile(filename)
		if err != nil {
			return err
		}
		ps, err := core.ParsePatterns(ctx, bs, interps)
		if err != nil {
			return err
		}
		for _, p := range ps {
			if err := patterns.Add(p); err != nil {
				return err
			}
			util.Logf("loaded pattern %s", p.Id)
		}
		return nil
	}

	if *patternsFilename != "" {
		if err := load(*patternsFilename); err != nil {
			log.Fatal(err)
		}
	}

	in := bufio.NewReader(os.Stdin)
	for {
		line, err := in.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "{") {
			var ev core.Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				log.Printf("bad event: %v", err)
				continue
			}
			if ev.Id == "" {
				ev.Id = core.Gen()
			}
			if ev.Time == 0 {
				ev.Time = core.Now()
			}
			outs, err := engine.Consider(ctx, &ev)
			if err != nil {
				log.Printf("consider error: %v", err)
				continue
			}
			for _, o := range outs {
				fmt.Printf("%s\n", render(o))
			}
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		switch parts[0] {
		case "load":
			if len(parts) != 2 {
				log.Printf("usage: load FILENAME")
				continue
			}
			if err := load(strings.TrimSpace(parts[1])); err != nil {
				log.Printf("load error: %v", err)
			}
		case "threds":
			ids, err := engine.ActiveThreds(ctx)
			if err != nil {
				log.Printf("threds error: %v", err)
				continue
			}
			for _, id := range ids {
				fmt.Println(id)
			}
		case "terminate":
			if len(parts) != 2 {
				log.Printf("usage: terminate ID")
				continue
			}
			if err := engine.Terminate(ctx, strings.TrimSpace(parts[1])); err != nil {
				log.Printf("terminate error: %v", err)
			}
		case "terminate-all":
			if err := engine.TerminateAll(ctx); err != nil {
				log.Printf("terminate-all error: %v", err)
			}
		case "quit", "exit":
			return
		default:
			log.Printf("unknown command %q", parts[0])
		}
	}
}

func render(x interface{}) string {
	bs, err := json.Marshal(x)
	if err != nil {
		return fmt.Sprintf("%#v", x)
	}
	return string(bs)
}
