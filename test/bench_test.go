package test

import (
	"context"
	"testing"
	"time"

	"github.com/tanpham/xrpc/channel"
	"github.com/tanpham/xrpc/codec"
	"github.com/tanpham/xrpc/loadbalance"
	"github.com/tanpham/xrpc/server"
	"github.com/tanpham/xrpc/xlog"
)

func setupServerAndChannel(b *testing.B, port int) (*server.Server, *channel.Channel) {
	reg := newSharedRegistry()
	b.Cleanup(func() { reg.Stop() })

	svr := server.NewServer(xlog.Nop())
	if err := svr.Register(&Arith{}); err != nil {
		b.Fatal(err)
	}
	addr := "127.0.0.1"
	go svr.Serve(addr, port, addrString(addr, port), reg)
	time.Sleep(100 * time.Millisecond)

	ch := channel.New(reg, &loadbalance.RoundRobinBalancer{}, 8, xlog.Nop())
	return svr, ch
}

func addrString(ip string, port int) string {
	return ip + ":" + itoaBench(port)
}

func itoaBench(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// BenchmarkSerialCall drives one goroutine of back-to-back synchronous
// calls through the full channel/transport/codec/server stack.
func BenchmarkSerialCall(b *testing.B) {
	svr, ch := setupServerAndChannel(b, 29090)
	b.Cleanup(func() {
		ch.Close()
		svr.Shutdown(3 * time.Second)
	})

	args := &codec.JSONMessage{V: &Args{A: 1, B: 2}}
	var reply Reply
	replyMsg := &codec.JSONMessage{V: &reply}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := ch.Call(context.Background(), "Arith.Add", args, replyMsg, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConcurrentCall drives many goroutines against one Channel,
// showing how ConnPool amortizes connection setup under concurrency.
func BenchmarkConcurrentCall(b *testing.B) {
	svr, ch := setupServerAndChannel(b, 29091)
	b.Cleanup(func() {
		ch.Close()
		svr.Shutdown(3 * time.Second)
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		args := &codec.JSONMessage{V: &Args{A: 1, B: 2}}
		for pb.Next() {
			var reply Reply
			if err := ch.Call(context.Background(), "Arith.Add", args, &codec.JSONMessage{V: &reply}, nil); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkCodecJSONMessage measures JSONMessage marshal/unmarshal cost
// isolated from the network path.
func BenchmarkCodecJSONMessage(b *testing.B) {
	header := &codec.RpcHeader{ServiceName: "Arith", MethodName: "Add", RequestID: 1}
	msg := &codec.JSONMessage{V: &Args{A: 1, B: 2}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data := codec.Encode(header, msg)
		_, payload, err := codec.Decode(data)
		if err != nil {
			b.Fatal(err)
		}
		var out Args
		if err := (&codec.JSONMessage{V: &out}).Unmarshal(payload); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCodecBytesMessage measures the raw Bytes Message path, which
// skips JSON marshaling entirely.
func BenchmarkCodecBytesMessage(b *testing.B) {
	header := &codec.RpcHeader{ServiceName: "Arith", MethodName: "Add", RequestID: 1}
	payload := codec.Bytes(`{"A":1,"B":2}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data := codec.Encode(header, &payload)
		_, body, err := codec.Decode(data)
		if err != nil {
			b.Fatal(err)
		}
		var out codec.Bytes
		if err := out.Unmarshal(body); err != nil {
			b.Fatal(err)
		}
	}
}
