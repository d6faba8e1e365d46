package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
)

// fakeRedis answers the handful of commands the store issues from memory. It is installed as a
// go-redis hook that never calls next, so no connection is ever dialed.
type fakeRedis struct {
	mu      sync.Mutex
	strings map[string]string
	zsets   map[string]map[string]float64
	fail    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{strings: map[string]string{}, zsets: map[string]map[string]float64{}}
}

func (f *fakeRedis) DialHook(goredis.DialHook) goredis.DialHook {
	return func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("fake redis does not dial")
	}
}

func (f *fakeRedis) ProcessHook(goredis.ProcessHook) goredis.ProcessHook {
	return func(_ context.Context, cmd goredis.Cmder) error {
		return f.exec(cmd)
	}
}

func (f *fakeRedis) ProcessPipelineHook(goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(_ context.Context, cmds []goredis.Cmder) error {
		var first error
		for _, cmd := range cmds {
			switch cmd.Name() {
			case "multi", "exec":
				continue
			}
			err := f.exec(cmd)
			cmd.SetErr(err)
			if err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}

func (f *fakeRedis) exec(cmd goredis.Cmder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	args := cmd.Args()
	name := strings.ToLower(fmt.Sprint(args[0]))
	if f.fail != nil {
		return f.fail
	}
	str := func(i int) string {
		if b, ok := args[i].([]byte); ok {
			return string(b)
		}
		return fmt.Sprint(args[i])
	}

	switch name {
	case "ping":
		cmd.(*goredis.StatusCmd).SetVal("PONG")
	case "get":
		v, ok := f.strings[str(1)]
		if !ok {
			return goredis.Nil
		}
		cmd.(*goredis.StringCmd).SetVal(v)
	case "set":
		f.strings[str(1)] = str(2)
		cmd.(*goredis.StatusCmd).SetVal("OK")
	case "del":
		var n int64
		for i := 1; i < len(args); i++ {
			if _, ok := f.strings[str(i)]; ok {
				delete(f.strings, str(i))
				n++
			}
		}
		cmd.(*goredis.IntCmd).SetVal(n)
	case "zadd":
		z := f.zset(str(1))
		_, existed := z[str(3)]
		z[str(3)] = args[2].(float64)
		if existed {
			cmd.(*goredis.IntCmd).SetVal(0)
		} else {
			cmd.(*goredis.IntCmd).SetVal(1)
		}
	case "zrem":
		z := f.zset(str(1))
		var n int64
		if _, ok := z[str(2)]; ok {
			delete(z, str(2))
			n = 1
		}
		cmd.(*goredis.IntCmd).SetVal(n)
	case "zcard":
		cmd.(*goredis.IntCmd).SetVal(int64(len(f.zset(str(1)))))
	case "zcount", "zremrangebyscore":
		z := f.zset(str(1))
		var n int64
		for m, score := range z {
			if inRange(score, str(2), str(3)) {
				n++
				if name == "zremrangebyscore" {
					delete(z, m)
				}
			}
		}
		cmd.(*goredis.IntCmd).SetVal(n)
	case "zpopmin":
		z := f.zset(str(1))
		count := int64(1)
		if len(args) > 2 {
			count = args[2].(int64)
		}
		members := make([]goredis.Z, 0, len(z))
		for m, score := range z {
			members = append(members, goredis.Z{Score: score, Member: m})
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].Score != members[j].Score {
				return members[i].Score < members[j].Score
			}
			return members[i].Member.(string) < members[j].Member.(string)
		})
		if int64(len(members)) > count {
			members = members[:count]
		}
		for _, m := range members {
			delete(z, m.Member.(string))
		}
		cmd.(*goredis.ZSliceCmd).SetVal(members)
	default:
		return fmt.Errorf("fake redis: unsupported command %q", name)
	}
	return nil
}

func (f *fakeRedis) zset(key string) map[string]float64 {
	z := f.zsets[key]
	if z == nil {
		z = map[string]float64{}
		f.zsets[key] = z
	}
	return z
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.strings[key]
	return ok
}

func (f *fakeRedis) member(zkey, member string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.zsets[zkey][member]
	return ok
}

func inRange(score float64, min, max string) bool {
	lo, loEx := parseBound(min)
	hi, hiEx := parseBound(max)
	if score < lo || (loEx && score == lo) {
		return false
	}
	if score > hi || (hiEx && score == hi) {
		return false
	}
	return true
}

func parseBound(s string) (float64, bool) {
	switch s {
	case "-inf":
		return math.Inf(-1), false
	case "+inf", "inf":
		return math.Inf(1), false
	}
	exclusive := strings.HasPrefix(s, "(")
	v, _ := strconv.ParseFloat(strings.TrimPrefix(s, "("), 64)
	return v, exclusive
}

func newFakeRedisStore(t *testing.T, max int) (*Redis, *fakeRedis) {
	t.Helper()
	fr := newFakeRedis()
	rdb := goredis.NewClient(&goredis.Options{Addr: "fake-redis:6379"})
	rdb.AddHook(fr)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisWithClient(logger.Nop(), rdb, RedisOptions{TTL: time.Minute, MaxEntries: max}), fr
}
