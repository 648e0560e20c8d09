package resp_test

import (
	"bufio"
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/pubsub/resp"
)

var _ = Describe("Writer", func() {
	Describe("EncodeCommand", func() {
		It("uppercases the command name", func() {
			Expect(string(resp.EncodeCommand("publish", "news", "hi"))).To(HavePrefix("PUBLISH "))
		})

		It("ends in \r\n", func() {
			Expect(string(resp.EncodeCommand("ping"))).To(HaveSuffix("\r\n"))
		})

		It("space joins the arguments", func() {
			Expect(string(resp.EncodeCommand("subscribe", "a", "b", "c"))).
				To(Equal("SUBSCRIBE a b c\r\n"))
		})

		It("does not add a trailing space without arguments", func() {
			Expect(string(resp.EncodeCommand("unsubscribe"))).To(Equal("UNSUBSCRIBE\r\n"))
		})

		It("does not escape arguments", func() {
			Expect(string(resp.EncodeCommand("PUBLISH", "news", `"hello world"`))).
				To(Equal("PUBLISH news \"hello world\"\r\n"))
		})

		It("leaves argument case alone", func() {
			Expect(string(resp.EncodeCommand("auth", "Alice", "S3cret"))).To(Equal("AUTH Alice S3cret\r\n"))
		})
	})

	Describe("WriteCommand", func() {
		It("writes the encoded command", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(resp.WriteCommand(w, "psubscribe", "news.*")).To(Succeed())
			Expect(w.String()).To(Equal("PSUBSCRIBE news.*\r\n"))
		})
	})

	Describe("reply writers", func() {
		It("writes OK", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(resp.WriteOk(w)).To(Succeed())
			Expect(w.String()).To(Equal("+OK\r\n"))
		})

		It("writes a simple string", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(resp.WriteSimpleString(w, "PONG")).To(Succeed())
			Expect(w.String()).To(Equal("+PONG\r\n"))
		})

		It("writes an error", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(resp.WriteError(w, "ERR errMessage")).To(Succeed())
			Expect(w.String()).To(Equal("-ERR errMessage\r\n"))
		})

		It("writes an integer", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(resp.WriteInteger(w, -12)).To(Succeed())
			Expect(w.String()).To(Equal(":-12\r\n"))
		})

		It("writes a bulk string and null", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(resp.WriteBulkString(w, []byte("hello"))).To(Succeed())
			Expect(resp.WriteNull(w)).To(Succeed())
			Expect(w.String()).To(Equal("$5\r\nhello\r\n$-1\r\n"))
		})

		It("writes a subscription push", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(resp.WriteArray(w, resp.Bulk("subscribe"), resp.Bulk("news"), resp.Integer(1))).To(Succeed())
			Expect(w.String()).To(Equal("*3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n"))
		})

		It("produces bytes ReadReply decodes back to the same reply", func() {
			reply := resp.Array{
				resp.Bulk("pmessage"),
				resp.SimpleString("news.*"),
				resp.Array{resp.Integer(3), resp.Null{}},
				resp.Bulk("line\r\nbreak"),
			}

			decoded, err := resp.ReadReply(bufio.NewReader(bytes.NewReader(resp.AppendReply(nil, reply))))
			Expect(err).To(Succeed())
			Expect(decoded).To(Equal(reply))
		})
	})
})
