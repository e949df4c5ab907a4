// Copyright 2018 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// pcosyncctl is a small command-line client for the pcosync Core API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pcosync/pcosync/internal/apiclient"
	"github.com/pcosync/pcosync/internal/cancellation"
	"github.com/pcosync/pcosync/internal/config"
)

var (
	port = flag.Int("port", config.ServicePort, "pcosync Core API port")
)

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

func run(c *apiclient.Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: pcosyncctl [-port N] <status|preview|upcoming|sync|pending|approve ID|deny ID|cancel ID NAME|restore ID|config NAME>")
	}

	switch args[0] {
	case "status":
		s, err := c.Status()
		if err != nil {
			return err
		}
		printJSON(s)
	case "preview":
		items, err := c.Preview()
		if err != nil {
			return err
		}
		printJSON(items)
	case "upcoming":
		items, err := c.PreviewUpcoming()
		if err != nil {
			return err
		}
		printJSON(items)
	case "sync":
		s, err := c.Sync()
		if err != nil {
			return err
		}
		printJSON(s)
	case "pending":
		p, err := c.ListPending()
		if err != nil {
			return err
		}
		printJSON(p)
	case "approve":
		if len(args) < 2 {
			return fmt.Errorf("usage: pcosyncctl approve ID")
		}
		return c.Approve(args[1])
	case "deny":
		if len(args) < 2 {
			return fmt.Errorf("usage: pcosyncctl deny ID")
		}
		return c.Deny(args[1])
	case "cancel":
		if len(args) < 3 {
			return fmt.Errorf("usage: pcosyncctl cancel ID NAME")
		}
		return c.Cancel(cancellation.Record{ID: args[1], Name: args[2]})
	case "restore":
		if len(args) < 2 {
			return fmt.Errorf("usage: pcosyncctl restore ID")
		}
		return c.Restore(args[1])
	case "config":
		if len(args) < 2 {
			return fmt.Errorf("usage: pcosyncctl config NAME")
		}
		raw, err := c.GetConfig(args[1])
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

func main() {
	flag.Parse()
	c := apiclient.New(fmt.Sprintf("http://localhost:%d", *port))
	if err := run(c, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
