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

// patdoc renders a pattern file's documentation as HTML on stdout.
//
// Usage:
//
//	patdoc PATTERNS.yaml > patterns.html
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rburson-acme/new-rules-sub003/core"
	"github.com/rburson-acme/new-rules-sub003/interpreters"
	"github.com/rburson-acme/new-rules-sub003/tools"
)

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: patdoc PATTERNS")
	}

	ctx := context.Background()

	bs, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	ps, err := core.ParsePatterns(ctx, bs, interpreters.Standard())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(`<!DOCTYPE html><html><body>`)
	for _, p := range ps {
		if err := tools.RenderPatternHTML(p, os.Stdout); err != nil {
			log.Fatal(err)
		}
	}
	fmt.Println(`</body></html>`)
}
