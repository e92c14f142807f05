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

// Package tools renders Pattern documentation.
package tools

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	md "github.com/russross/blackfriday/v2"

	"github.com/rburson-acme/new-rules-sub003/core"
)

// RenderPatternHTML writes an HTML fragment documenting the Pattern:
// its doc (as Markdown), each Reaction, and each Reaction's condition
// tree.
func RenderPatternHTML(p *core.Pattern, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	f(`<div class="pattern" id="%s">`, p.Id)
	f(`<h2 class="patternName">%s</h2>`, p.Name)
	if p.Doc != "" {
		f(`<div class="patternDoc doc">%s</div>`, md.Run([]byte(p.Doc)))
	}

	f(`<table class="reactions">`)
	for _, r := range p.Reactions {
		f(`<tr class="reaction"><td><span class="reactionName">%s</span></td><td>`, r.Name)
		if r.Doc != "" {
			f(`<div class="reactionDoc doc">%s</div>`, md.Run([]byte(r.Doc)))
		}
		if 0 < len(r.AllowedSources) {
			f(`<div class="allowedSources">sources: <code>%s</code></div>`,
				strings.Join(r.AllowedSources, ", "))
		}
		if r.Expiry != nil {
			f(`<div class="expiry">expires after <code>%s</code></div>`, r.Expiry.Interval)
		}
		if r.Condition != nil {
			renderCondition(f, r.Condition)
		}
		f(`</td></tr>`)
	}
	f(`</table>`)
	f(`</div>`)

	return nil
}

func renderCondition(f func(string, ...interface{}), m *core.ConditionModel) {
	f(`<div class="condition">`)
	if m.Type != "" {
		f(`<div>type: <span class="conditionType">%s</span></div>`, m.Type)
	}
	if m.Expr != "" {
		f(`<div class="code"><pre>%s</pre></div>`, m.Expr)
	}
	if m.OnTrue != "" {
		f(`<div>onTrue: <div class="code"><pre>%s</pre></div></div>`, m.OnTrue)
	}
	if m.Transform != nil {
		f(`<div>transform: <code>%s</code></div>`, js(m.Transform))
	}
	if m.Publish != nil {
		f(`<div>publish: <code>%s</code></div>`, js(m.Publish))
	}
	if m.Transition != nil {
		f(`<div>transition: <code>%s</code></div>`, js(m.Transition))
	}
	for _, kid := range m.Operands {
		renderCondition(f, kid)
	}
	f(`</div>`)
}

func js(x interface{}) string {
	bs, err := json.Marshal(&x)
	if err != nil {
		return fmt.Sprintf("%#v", x)
	}
	return string(bs)
}
