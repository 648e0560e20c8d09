package client_test

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/luma/pubsub/client"
	"github.com/luma/pubsub/resp"
)

type testPKI struct {
	caPEM      []byte
	serverCert tls.Certificate
	clientPEM  []byte
	clientKey  []byte
}

// makePKI creates a CA, a server certificate for pubsub.test and a client
// certificate, all signed by the CA.
func makePKI() testPKI {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	Expect(err).To(Succeed())

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "pubsub test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	Expect(err).To(Succeed())

	caCert, err := x509.ParseCertificate(caDER)
	Expect(err).To(Succeed())

	leaf := func(serial int64, usage x509.ExtKeyUsage) ([]byte, []byte) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		Expect(err).To(Succeed())

		template := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      pkix.Name{CommonName: "pubsub.test"},
			DNSNames:     []string{"pubsub.test"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		}

		der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
		Expect(err).To(Succeed())

		keyDER, err := x509.MarshalECPrivateKey(key)
		Expect(err).To(Succeed())

		return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
			pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	}

	serverPEM, serverKey := leaf(2, x509.ExtKeyUsageServerAuth)
	serverCert, err := tls.X509KeyPair(serverPEM, serverKey)
	Expect(err).To(Succeed())

	clientPEM, clientKey := leaf(3, x509.ExtKeyUsageClientAuth)

	return testPKI{
		caPEM:      pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}),
		serverCert: serverCert,
		clientPEM:  clientPEM,
		clientKey:  clientKey,
	}
}

// serveTLS answers every line on every connection with +PONG.
func serveTLS(pki testPKI) (net.Listener, int) {
	return serveTLSWith(pki, func(conn net.Conn, line string) error {
		_, err := conn.Write([]byte("+PONG\r\n"))
		return err
	})
}

// serveTLSWith calls answer for every line received on every connection.
func serveTLSWith(pki testPKI, answer func(conn net.Conn, line string) error) (net.Listener, int) {
	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{pki.serverCert},
		MinVersion:   tls.VersionTLS12,
	})
	Expect(err).To(Succeed())

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func() {
				defer conn.Close()

				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if err := answer(conn, line); err != nil {
						return
					}
				}
			}()
		}
	}()

	_, port, err := net.SplitHostPort(listener.Addr().String())
	Expect(err).To(Succeed())

	p, err := strconv.Atoi(port)
	Expect(err).To(Succeed())

	return listener, p
}

var _ = Describe("Options", func() {
	var (
		fs  afero.Fs
		pki testPKI
	)

	BeforeEach(func() {
		pki = makePKI()

		fs = afero.NewMemMapFs()
		Expect(afero.WriteFile(fs, "/certs/ca.crt", pki.caPEM, 0600)).To(Succeed())
		Expect(afero.WriteFile(fs, "/certs/client.crt", pki.clientPEM, 0600)).To(Succeed())
		Expect(afero.WriteFile(fs, "/certs/client.key", pki.clientKey, 0600)).To(Succeed())
		Expect(afero.WriteFile(fs, "/certs/client.pem", append(pki.clientPEM, pki.clientKey...), 0600)).To(Succeed())
		Expect(afero.WriteFile(fs, "/certs/junk", []byte("not a certificate"), 0600)).To(Succeed())
	})

	Describe("TLSConfig()", func() {
		It("returns nil when no TLS files are set", func() {
			Expect(client.Options{}.UseTLS()).To(BeFalse())
			Expect(client.Options{}.TLSConfig()).To(BeNil())
		})

		It("loads the client key pair", func() {
			config, err := client.Options{
				Host:     "pubsub.test",
				CertFile: "/certs/client.crt",
				KeyFile:  "/certs/client.key",
				Fs:       fs,
			}.TLSConfig()

			Expect(err).To(Succeed())
			Expect(config.Certificates).To(HaveLen(1))
			Expect(config.ServerName).To(Equal("pubsub.test"))
			Expect(config.InsecureSkipVerify).To(BeFalse())
		})

		It("reads the key from the certificate file when no key file is set", func() {
			config, err := client.Options{CertFile: "/certs/client.pem", Fs: fs}.TLSConfig()
			Expect(err).To(Succeed())
			Expect(config.Certificates).To(HaveLen(1))
		})

		It("refuses a key without a certificate", func() {
			_, err := client.Options{KeyFile: "/certs/client.key", Fs: fs}.TLSConfig()
			Expect(err).To(MatchError(client.ErrKeyWithoutCert))
		})

		It("fails when a file is missing", func() {
			_, err := client.Options{CAFile: "/certs/nope.crt", Fs: fs}.TLSConfig()
			Expect(err).To(HaveOccurred())
		})

		It("fails when the CA file holds no certificates", func() {
			_, err := client.Options{CAFile: "/certs/junk", Fs: fs}.TLSConfig()
			Expect(errors.Is(err, client.ErrNoCACerts)).To(BeTrue())
		})

		It("skips host name verification only when a CA is set and VerifyPeerName is off", func() {
			config, err := client.Options{CAFile: "/certs/ca.crt", Fs: fs}.TLSConfig()
			Expect(err).To(Succeed())
			Expect(config.RootCAs).NotTo(BeNil())
			Expect(config.InsecureSkipVerify).To(BeTrue())
			Expect(config.VerifyPeerCertificate).NotTo(BeNil())

			config, err = client.Options{CAFile: "/certs/ca.crt", VerifyPeerName: true, Fs: fs}.TLSConfig()
			Expect(err).To(Succeed())
			Expect(config.InsecureSkipVerify).To(BeFalse())
		})
	})

	Describe("Dial()", func() {
		var (
			listener net.Listener
			port     int
		)

		BeforeEach(func() {
			listener, port = serveTLS(pki)
		})

		AfterEach(func() {
			listener.Close()
		})

		It("connects over TLS, verifying the chain but not the name", func() {
			conn, err := client.Dial(context.Background(), client.Options{
				Host:     "127.0.0.1",
				Port:     port,
				CAFile:   "/certs/ca.crt",
				CertFile: "/certs/client.crt",
				KeyFile:  "/certs/client.key",
				Fs:       fs,
			})
			Expect(err).To(Succeed())
			defer conn.Close()

			Expect(conn.Ping()).To(Equal(resp.SimpleString("PONG")))
		})

		It("waits repeatedly and then reads a push split across TLS records", func() {
			listener.Close()

			listener, port = serveTLSWith(pki, func(conn net.Conn, line string) error {
				time.Sleep(30 * time.Millisecond)
				if _, err := conn.Write([]byte("*3\r\n$7\r\nmessage\r\n$4\r\nne")); err != nil {
					return err
				}

				time.Sleep(20 * time.Millisecond)
				_, err := conn.Write([]byte("ws\r\n$5\r\nhello\r\n"))
				return err
			})

			conn, err := client.Dial(context.Background(), client.Options{
				Host:   "127.0.0.1",
				Port:   port,
				CAFile: "/certs/ca.crt",
				Fs:     fs,
			})
			Expect(err).To(Succeed())
			defer conn.Close()

			for i := 0; i < 5; i++ {
				Expect(conn.TryWait(5 * time.Millisecond)).To(BeFalse())
			}

			Expect(conn.Subscribe("news")).To(Succeed())

			var received []resp.Reply
			Expect(conn.RecvAllWait(300*time.Millisecond, func(reply resp.Reply) {
				received = append(received, reply)
			}, false)).To(Succeed())

			Expect(received).To(Equal([]resp.Reply{
				resp.Array{resp.Bulk("message"), resp.Bulk("news"), resp.Bulk("hello")},
			}))

			Expect(conn.TryWait(5 * time.Millisecond)).To(BeFalse())
		})

		It("fails when the peer name must match and does not", func() {
			_, err := client.Dial(context.Background(), client.Options{
				Host:           "127.0.0.1",
				Port:           port,
				CAFile:         "/certs/ca.crt",
				VerifyPeerName: true,
				Fs:             fs,
			})

			var transportErr *client.TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
			Expect(transportErr.Op).To(Equal("dial"))
		})

		It("fails when the server is not signed by the CA", func() {
			other := makePKI()
			Expect(afero.WriteFile(fs, "/certs/other-ca.crt", other.caPEM, 0600)).To(Succeed())

			_, err := client.Dial(context.Background(), client.Options{
				Host:   "127.0.0.1",
				Port:   port,
				CAFile: "/certs/other-ca.crt",
				Fs:     fs,
			})
			Expect(err).To(HaveOccurred())
		})

		It("fails with a TransportError when nothing is listening", func() {
			listener.Close()

			_, err := client.Dial(context.Background(), client.Options{
				Host:        "127.0.0.1",
				Port:        port,
				DialTimeout: time.Second,
			})

			var transportErr *client.TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
		})
	})
})
