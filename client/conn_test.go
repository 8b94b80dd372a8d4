package client_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/kvcheck/client"
	"github.com/luma/kvcheck/protocol"
)

// fakeServer answers requests on one end of a pipe with whatever respond
// returns. A nil reply sends nothing.
type fakeServer struct {
	conn     net.Conn
	requests chan protocol.Request
}

func startFakeServer(conn net.Conn, respond func(protocol.Request) []byte) *fakeServer {
	s := &fakeServer{
		conn:     conn,
		requests: make(chan protocol.Request, 16),
	}

	go func() {
		defer GinkgoRecover()

		r := bufio.NewReader(conn)
		for {
			req, err := protocol.ReadRequest(r, 1<<20)
			if err != nil {
				return
			}

			s.requests <- req

			if reply := respond(req); reply != nil {
				if _, err := conn.Write(reply); err != nil {
					return
				}
			}
		}
	}()

	return s
}

func storeResponder() func(protocol.Request) []byte {
	values := map[string][]byte{}

	return func(req protocol.Request) []byte {
		switch r := req.(type) {
		case *protocol.SetRequest:
			values[r.Key] = r.Value
			return []byte("OK\r\n")

		case *protocol.GetRequest:
			value, ok := values[r.Key]
			if !ok {
				return []byte("MISSING\r\n")
			}

			return append([]byte("OK "+strconv.Itoa(len(value))+"\r\n"), value...)
		}

		return nil
	}
}

var _ = Describe("Conn", func() {
	var (
		clientSide net.Conn
		serverSide net.Conn
	)

	BeforeEach(func() {
		clientSide, serverSide = net.Pipe()
	})

	AfterEach(func() {
		serverSide.Close()
		clientSide.Close()
	})

	Describe("Set()", func() {
		It("sends the command and returns the status", func() {
			server := startFakeServer(serverSide, storeResponder())
			conn := client.New(clientSide, client.Options{})

			status, err := conn.Set(context.Background(), "abcKEYxyz", []byte(strings.Repeat("A", 1024)))
			Expect(err).To(Succeed())
			Expect(status).To(Equal("OK"))

			var req protocol.Request
			Eventually(server.requests).Should(Receive(&req))
			Expect(req.(*protocol.SetRequest).Value).To(HaveLen(1024))
		})

		It("can send the command line and the value separately", func() {
			startFakeServer(serverSide, storeResponder())
			conn := client.New(clientSide, client.Options{SplitWrite: true, SplitDelay: time.Millisecond})

			status, err := conn.Set(context.Background(), "key", []byte("value"))
			Expect(err).To(Succeed())
			Expect(status).To(Equal("OK"))

			resp, err := conn.Get(context.Background(), "key")
			Expect(err).To(Succeed())
			Expect(resp.Value).To(Equal([]byte("value")))
		})

		It("rejects keys that cannot be framed", func() {
			conn := client.New(clientSide, client.Options{})

			_, err := conn.Set(context.Background(), "a key", []byte("value"))
			Expect(errors.Is(err, client.ErrInvalidKey)).To(BeTrue())
		})

		It("times out when the server never replies", func() {
			startFakeServer(serverSide, func(protocol.Request) []byte { return nil })
			conn := client.New(clientSide, client.Options{ReadTimeout: 20 * time.Millisecond})

			_, err := conn.Set(context.Background(), "key", []byte("value"))
			Expect(errors.Is(err, client.ErrTimeout)).To(BeTrue())
		})

		It("returns when the context is cancelled", func() {
			startFakeServer(serverSide, func(protocol.Request) []byte { return nil })
			conn := client.New(clientSide, client.Options{})

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(20*time.Millisecond, cancel)

			_, err := conn.Set(ctx, "key", []byte("value"))
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})

		It("reports a context deadline as a timeout", func() {
			startFakeServer(serverSide, func(protocol.Request) []byte { return nil })
			conn := client.New(clientSide, client.Options{})

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			_, err := conn.Set(ctx, "key", []byte("value"))
			Expect(errors.Is(err, client.ErrTimeout)).To(BeTrue())
		})
	})

	Describe("Get()", func() {
		for _, framing := range []client.Framing{client.FramingLength, client.FramingDrain} {
			framing := framing

			Context("with "+string(framing)+" framing", func() {
				It("returns the value that was set", func() {
					startFakeServer(serverSide, storeResponder())
					conn := client.New(clientSide, client.Options{Framing: framing})

					value := []byte(strings.Repeat("A", 1024))

					_, err := conn.Set(context.Background(), "abcKEYxyz", value)
					Expect(err).To(Succeed())

					resp, err := conn.Get(context.Background(), "abcKEYxyz")
					Expect(err).To(Succeed())
					Expect(resp.Found).To(BeTrue())
					Expect(resp.Value).To(Equal(value))

					lines := strings.Split(string(resp.Raw), "\r\n")
					Expect(len(lines)).To(BeNumerically(">=", 2))
					Expect(lines[1]).To(Equal(string(value)))
				})

				It("reports a key that was never set as not found", func() {
					startFakeServer(serverSide, storeResponder())
					conn := client.New(clientSide, client.Options{Framing: framing})

					resp, err := conn.Get(context.Background(), "neverSet")
					Expect(err).To(Succeed())
					Expect(resp.Found).To(BeFalse())
				})
			})
		}

		It("takes the second line as the value whatever the header says with drain framing", func() {
			value := strings.Repeat("A", 16)
			startFakeServer(serverSide, func(protocol.Request) []byte {
				return []byte("VALUE k\r\n" + value + "\r\nEND\r\n")
			})
			conn := client.New(clientSide, client.Options{Framing: client.FramingDrain})

			resp, err := conn.Get(context.Background(), "k")
			Expect(err).To(Succeed())
			Expect(resp.Found).To(BeTrue())
			Expect(resp.Header).To(Equal("VALUE k"))
			Expect(string(resp.Value)).To(Equal(value))
		})

		It("returns an error for an unexpected reply", func() {
			startFakeServer(serverSide, func(protocol.Request) []byte {
				return []byte("Unknown request received\r\n")
			})
			conn := client.New(clientSide, client.Options{})

			resp, err := conn.Get(context.Background(), "key")
			Expect(errors.Is(err, protocol.ErrUnexpectedResponse)).To(BeTrue())
			Expect(resp.Header).To(Equal("Unknown request received"))
		})
	})

	Describe("over TCP", func() {
		var listener net.Listener

		BeforeEach(func() {
			var err error
			listener, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).To(Succeed())
		})

		AfterEach(func() {
			listener.Close()
		})

		// serveSegmented answers like storeResponder, but a get hit is sent as
		// the header and value, then a CRLF after a pause.
		serveSegmented := func(pause time.Duration) {
			go func() {
				defer GinkgoRecover()

				conn, err := listener.Accept()
				if err != nil {
					return
				}
				defer conn.Close()

				respond := storeResponder()
				r := bufio.NewReader(conn)
				for {
					req, err := protocol.ReadRequest(r, 1<<20)
					if err != nil {
						return
					}

					reply := respond(req)
					if _, err := conn.Write(reply); err != nil {
						return
					}

					if _, ok := req.(*protocol.GetRequest); ok && !strings.HasPrefix(string(reply), "MISSING") {
						time.Sleep(pause)
						if _, err := conn.Write([]byte("\r\n")); err != nil {
							return
						}
					}
				}
			}()
		}

		It("stays in step when a CRLF after a value arrives late", func() {
			serveSegmented(10 * time.Millisecond)

			conn, err := client.Dial(context.Background(), listener.Addr().String(), client.Options{ReadTimeout: 2 * time.Second})
			Expect(err).To(Succeed())
			defer conn.Close()

			for i := 0; i < 5; i++ {
				key := "key" + strconv.Itoa(i)
				value := []byte(strings.Repeat("A", 4+i))

				status, err := conn.Set(context.Background(), key, value)
				Expect(err).To(Succeed())
				Expect(status).To(Equal("OK"))

				resp, err := conn.Get(context.Background(), key)
				Expect(err).To(Succeed())
				Expect(resp.Found).To(BeTrue())
				Expect(resp.Value).To(Equal(value))
			}

			resp, err := conn.Get(context.Background(), "neverSet")
			Expect(err).To(Succeed())
			Expect(resp.Found).To(BeFalse())
		})
	})

	Describe("Close()", func() {
		It("fails further commands", func() {
			conn := client.New(clientSide, client.Options{})
			Expect(conn.Close()).To(Succeed())

			_, err := conn.Set(context.Background(), "key", []byte("value"))
			Expect(err).To(MatchError(client.ErrClosed))

			Expect(conn.Close()).To(MatchError(client.ErrClosed))
		})
	})

	Describe("Dial()", func() {
		It("fails when nothing is listening", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).To(Succeed())
			addr := listener.Addr().String()
			listener.Close()

			_, err = client.Dial(context.Background(), addr, client.Options{DialTimeout: time.Second})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ParseFraming()", func() {
		It("defaults to length framing", func() {
			framing, ok := client.ParseFraming("")
			Expect(ok).To(BeTrue())
			Expect(framing).To(Equal(client.FramingLength))
		})

		It("rejects unknown framings", func() {
			_, ok := client.ParseFraming("magic")
			Expect(ok).To(BeFalse())
		})
	})
})
