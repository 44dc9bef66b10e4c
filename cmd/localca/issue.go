package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
	"github.com/function61/localca/pkg/certauthority"
	"github.com/function61/localca/pkg/certinventory"
	"github.com/function61/localca/pkg/certissuer"
	"github.com/scylladb/termtables"
)

func issue(ctx context.Context, hostname string, conf *config) error {
	rootLogger := logex.StandardLogger()

	ca, err := certauthority.EnsureCA(conf.CADir, logex.Prefix("authority", rootLogger))
	if err != nil {
		return err
	}

	issued, err := certissuer.Issue(ca, hostname, conf.CertDir, logex.Prefix("issuer", rootLogger))
	if err != nil {
		return err
	}

	fmt.Printf(
		"CA certificate: %s\nCertificate:    %s\nPrivate key:    %s\n",
		ca.CertPath(),
		issued.CertPath,
		issued.KeyPath)

	return nil
}

func caInit(ctx context.Context, conf *config) error {
	_, err := certauthority.EnsureCA(conf.CADir, logex.StandardLogger())
	return err
}

func list(ctx context.Context, conf *config) error {
	inv, err := certinventory.Scan(conf.CertDir, logex.StandardLogger())
	if err != nil {
		return err
	}

	tbl := termtables.CreateTable()
	tbl.AddHeaders("Identity", "Serial", "Expires", "SANs")

	for _, cert := range inv.All() {
		expires := cert.NotAfter.Format("2006-01-02")
		if cert.Expired {
			expires += " (expired)"
		}

		tbl.AddRow(
			cert.Identity,
			cert.SerialNumber,
			expires,
			strings.Join(append(append([]string{}, cert.DNSNames...), cert.IPAddresses...), ", "))
	}

	fmt.Print(tbl.Render())

	return nil
}

func inspect(ctx context.Context, hostname string, conf *config) error {
	inv, err := certinventory.Scan(conf.CertDir, logex.StandardLogger())
	if err != nil {
		return err
	}

	cert := certinventory.ByHostnameSupportingWildcard(hostname, inv)
	if cert == nil {
		return fmt.Errorf("cert not found: %s", hostname)
	}

	return jsonfile.Marshal(os.Stdout, cert)
}
