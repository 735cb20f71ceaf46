package admin

import (
	"crypto/tls"
	"os"

	libcrt "github.com/nabbar/golib/certificates"
	tlsaut "github.com/nabbar/golib/certificates/auth"
	tlscas "github.com/nabbar/golib/certificates/ca"
	tlscrt "github.com/nabbar/golib/certificates/certs"
	tlscpr "github.com/nabbar/golib/certificates/cipher"
	tlscrv "github.com/nabbar/golib/certificates/curves"
	tlsvrs "github.com/nabbar/golib/certificates/tlsversion"

	libfwd "github.com/sabouaram/tcpgate/internal/forward"
)

// buildTLSConfig loads the admin plane's optional TLS/mTLS material
// through the certificates builder (certs.ParsePair / ca.Parse, then
// Config.New().TLS(servername)).
func buildTLSConfig(cfg *libfwd.AdminTLS) (*tls.Config, error) {
	if cfg == nil || cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, nil
	}

	keyPEM, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	certPEM, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		return nil, err
	}

	cert, err := tlscrt.ParsePair(string(keyPEM), string(certPEM))
	if err != nil {
		return nil, err
	}

	cc := &libcrt.Config{
		Certs:      []tlscrt.Certif{cert.Model()},
		AuthClient: tlsaut.NoClientCert,
	}

	if cfg.ClientCAFile != "" {
		caPEM, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}

		ca, err := tlscas.Parse(string(caPEM))
		if err != nil {
			return nil, err
		}

		cc.ClientCA = []tlscas.Cert{ca}

		if cfg.RequireClientCert {
			cc.AuthClient = tlsaut.RequireAndVerifyClientCert
		} else {
			cc.AuthClient = tlsaut.VerifyClientCertIfGiven
		}
	}

	built := cc.New()

	if cfg.VersionMin != "" {
		built.SetVersionMin(tlsvrs.Parse(cfg.VersionMin))
	}
	if cfg.VersionMax != "" {
		built.SetVersionMax(tlsvrs.Parse(cfg.VersionMax))
	}
	if len(cfg.CipherList) > 0 {
		ciphers := make([]tlscpr.Cipher, 0, len(cfg.CipherList))
		for _, c := range cfg.CipherList {
			ciphers = append(ciphers, tlscpr.Parse(c))
		}
		built.SetCipherList(ciphers)
	}
	if len(cfg.CurveList) > 0 {
		curves := make([]tlscrv.Curves, 0, len(cfg.CurveList))
		for _, c := range cfg.CurveList {
			curves = append(curves, tlscrv.Parse(c))
		}
		built.SetCurveList(curves)
	}

	return built.TLS(""), nil
}
