package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli"

	"github.com/AutoCookies/pomai-memberttl/internal/adapter/tcp"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/ttl"
)

var (
	serverAddr string
	tenantID   string
	ttlUnit    string

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "addr, a",
			Usage:       "server address",
			Value:       "localhost:7600",
			EnvVar:      "POMAI_ADDR",
			Destination: &serverAddr,
		},
		cli.StringFlag{
			Name:        "tenant, t",
			Usage:       "tenant id",
			Value:       "default",
			EnvVar:      "POMAI_TENANT",
			Destination: &tenantID,
		},
	}

	expireFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "unit, u",
			Usage:       "ttl unit: s or ms",
			Value:       "s",
			Destination: &ttlUnit,
		},
	}
)

func connect() (*tcp.Client, error) {
	c, err := tcp.Dial(serverAddr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if tenantID != "" && tenantID != "default" {
		if err := c.SelectTenant(tenantID); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func needArgs(ctx *cli.Context, n int) error {
	if ctx.NArg() < n {
		return cli.NewExitError(fmt.Sprintf("%s: expected %s", ctx.Command.Name, ctx.Command.ArgsUsage), 2)
	}
	return nil
}

func expire(ctx *cli.Context) error {
	if err := needArgs(ctx, 3); err != nil {
		return err
	}
	ttlValue, unit, err := parseExpireArgs(ctx.Args().Get(2), ttlUnit)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.ExpireMember(ctx.Args().Get(0), ctx.Args().Get(1), ttlValue, unit.String())
	if err != nil {
		return err
	}
	fmt.Println(st)
	return nil
}

// parseExpireArgs validates the ttl argument and --unit before anything
// is sent to the server.
func parseExpireArgs(rawTTL, rawUnit string) (int64, ttl.Unit, error) {
	v, err := ttl.ParseTTL(rawTTL)
	if err != nil {
		return 0, 0, err
	}
	unit, err := ttl.ParseUnit(rawUnit)
	if err != nil {
		return 0, 0, err
	}
	return v, unit, nil
}

func remaining(ctx *cli.Context) error {
	if err := needArgs(ctx, 2); err != nil {
		return err
	}
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	d, err := c.TTLMember(ctx.Args().Get(0), ctx.Args().Get(1))
	if err == tcp.ErrNotFound {
		fmt.Println("no expiration")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(d)
	return nil
}

func hset(ctx *cli.Context) error {
	if err := needArgs(ctx, 3); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"field": ctx.Args().Get(1), "value": ctx.Args().Get(2)})
	return doPrint(tcp.OpHSet, ctx.Args().Get(0), body)
}

func sadd(ctx *cli.Context) error {
	if err := needArgs(ctx, 2); err != nil {
		return err
	}
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	added := 0
	for _, m := range ctx.Args().Tail() {
		v, err := c.Do(tcp.OpSAdd, ctx.Args().First(), []byte(m))
		if err != nil {
			return err
		}
		n, _ := strconv.Atoi(string(v))
		added += n
	}
	fmt.Println(added)
	return nil
}

func zadd(ctx *cli.Context) error {
	if err := needArgs(ctx, 3); err != nil {
		return err
	}
	score, err := strconv.ParseFloat(ctx.Args().Get(1), 64)
	if err != nil {
		return cli.NewExitError("score must be a number", 2)
	}
	body, _ := json.Marshal(map[string]any{"score": score, "member": ctx.Args().Get(2)})
	return doPrint(tcp.OpZAdd, ctx.Args().Get(0), body)
}

func members(ctx *cli.Context) error {
	if err := needArgs(ctx, 1); err != nil {
		return err
	}
	key := ctx.Args().First()

	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	kind, err := c.Do(tcp.OpType, key, nil)
	if err != nil {
		return err
	}

	var v []byte
	switch string(kind) {
	case "hash":
		v, err = c.Do(tcp.OpHGetAll, key, nil)
	case "set":
		v, err = c.Do(tcp.OpSMembers, key, nil)
	case "zset":
		v, err = c.Do(tcp.OpZRange, key, []byte(`{"start":0,"stop":-1}`))
	case "none":
		fmt.Println("(empty)")
		return nil
	default:
		return cli.NewExitError(fmt.Sprintf("%s holds a %s, not a collection", key, kind), 1)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(v))
	return nil
}

func keyType(ctx *cli.Context) error {
	if err := needArgs(ctx, 1); err != nil {
		return err
	}
	return doPrint(tcp.OpType, ctx.Args().First(), nil)
}

func stats(ctx *cli.Context) error {
	return doPrint(tcp.OpStats, "", nil)
}

func doPrint(op uint8, key string, body []byte) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	v, err := c.Do(op, key, body)
	if err != nil {
		return err
	}
	fmt.Println(string(v))
	return nil
}
