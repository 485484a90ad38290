package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

const version = "1.0.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "pomai-cli"
	app.HelpName = "pomai-cli"
	app.Usage = "talk to a pomai member-ttl server over its binary protocol"
	app.UsageText = "pomai-cli [global options] <command> [arguments...]"
	app.Version = version
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		{
			Name:      "expire",
			Aliases:   []string{"e"},
			Usage:     "set, override, cancel (ttl < 0) or apply now (ttl = 0) a member TTL",
			ArgsUsage: "<key> <member> <ttl>",
			Flags:     expireFlags,
			Action:    expire,
		},
		{
			Name:      "ttl",
			Usage:     "show the remaining TTL of a member",
			ArgsUsage: "<key> <member>",
			Action:    remaining,
		},
		{
			Name:      "hset",
			Usage:     "set a hash field",
			ArgsUsage: "<key> <field> <value>",
			Action:    hset,
		},
		{
			Name:      "sadd",
			Usage:     "add set members",
			ArgsUsage: "<key> <member>...",
			Action:    sadd,
		},
		{
			Name:      "zadd",
			Usage:     "add a sorted set member",
			ArgsUsage: "<key> <score> <member>",
			Action:    zadd,
		},
		{
			Name:      "members",
			Aliases:   []string{"m"},
			Usage:     "list the members of a hash, set or sorted set",
			ArgsUsage: "<key>",
			Action:    members,
		},
		{
			Name:      "type",
			Usage:     "show the kind of value at key",
			ArgsUsage: "<key>",
			Action:    keyType,
		},
		{
			Name:   "stats",
			Usage:  "show tenant statistics",
			Action: stats,
		},
	}
	return app
}
