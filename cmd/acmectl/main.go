// The acmectl command is an interactive operator shell over a running
// server's Store, grounded on shell/acmeshell.go's ishell.Shell
// construction -- but it drives acme/models.Store directly rather than
// an ACME client, since an operator inspects and mutates server state
// out of band from the protocol (spec §6.3 names the Store as the
// core's one external collaborator; this is the other consumer of it).
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/abiosoft/ishell"
	"github.com/abiosoft/readline"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/cmd"
)

// storeKey is the ishell context key the Store instance is stashed under,
// matching the commands.ClientKey convention.
const storeKey = "store"

func main() {
	flag.Parse()

	// acmectl has no durable process of its own: it inspects whatever Store
	// the operator's deployment uses. The in-memory Store is the only
	// concrete implementation in this repo, so a freshly booted acmectl
	// session is only useful against a store seeded by another in-process
	// harness (e.g. a test). A real deployment would flag in a Store built
	// on the same persistence engine acmed was started against.
	store := models.NewMemStore()

	shell := ishell.NewWithConfig(&readline.Config{
		Prompt: "[ acmectl ] > ",
	})
	shell.Set(storeKey, store)

	shell.AddCmd(&ishell.Cmd{
		Name:     "account",
		Help:     "show the account registered under a kid",
		LongHelp: "account <kid>",
		Func:     accountHandler,
	})
	shell.AddCmd(&ishell.Cmd{
		Name:     "orders",
		Help:     "list the order ids owned by a kid",
		LongHelp: "orders <kid>",
		Func:     ordersHandler,
	})
	shell.AddCmd(&ishell.Cmd{
		Name:     "order",
		Help:     "show an order's status and identifiers",
		LongHelp: "order <kid> <orderID>",
		Func:     orderHandler,
	})
	shell.AddCmd(&ishell.Cmd{
		Name:     "cert",
		Help:     "show a certificate's status",
		LongHelp: "cert <kid> <certificateID>",
		Func:     certHandler,
	})
	shell.AddCmd(&ishell.Cmd{
		Name:     "revoke",
		Help:     "force-revoke a certificate, bypassing the account/key authorization spec §4.7 requires of end users",
		LongHelp: "revoke <kid> <certificateID> [reasonCode]",
		Func:     revokeHandler,
	})

	shell.Println("acmectl: operator shell over an in-memory store")
	shell.Run()
	shell.Println("Goodbye!")
}

func getStore(c *ishell.Context) models.Store {
	raw := c.Get(storeKey)
	store, ok := raw.(models.Store)
	if !ok {
		panic(fmt.Sprintf("nil or invalid %q value in shell context", storeKey))
	}
	return store
}

func accountHandler(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: account <kid>")
		return
	}
	ctx := context.Background()
	sess, err := getStore(c).Begin(ctx)
	cmd.FailOnError(errOrNil(err), "begin session")
	defer sess.Rollback(ctx)

	account, err := sess.GetAccountByKid(ctx, c.Args[0])
	if err != nil {
		c.Printf("account: %s\n", err)
		return
	}
	c.Printf("kid:       %s\n", account.Kid)
	c.Printf("status:    %s\n", account.Status)
	c.Printf("contacts:  %v\n", account.Contacts)
	c.Printf("tosAgreed: %v\n", account.ToSAgreed)
	c.Printf("createdAt: %s\n", account.CreatedAt)
}

func ordersHandler(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: orders <kid>")
		return
	}
	ctx := context.Background()
	sess, err := getStore(c).Begin(ctx)
	cmd.FailOnError(errOrNil(err), "begin session")
	defer sess.Rollback(ctx)

	orders, err := sess.GetOrdersByKid(ctx, c.Args[0])
	if err != nil {
		c.Printf("orders: %s\n", err)
		return
	}
	if len(orders) == 0 {
		c.Println("(no orders)")
		return
	}
	for _, o := range orders {
		c.Printf("%s\t%s\n", o.OrderID, o.Status)
	}
}

func orderHandler(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("usage: order <kid> <orderID>")
		return
	}
	ctx := context.Background()
	sess, err := getStore(c).Begin(ctx)
	cmd.FailOnError(errOrNil(err), "begin session")
	defer sess.Rollback(ctx)

	order, err := sess.GetOrder(ctx, c.Args[0], c.Args[1])
	if err != nil {
		c.Printf("order: %s\n", err)
		return
	}
	idents, err := sess.GetIdentifiersByOrder(ctx, order.OrderID)
	if err != nil {
		c.Printf("order: load identifiers: %s\n", err)
		return
	}
	c.Printf("status:  %s\n", order.Status)
	c.Printf("expires: %s\n", order.Expires)
	for _, ident := range idents {
		c.Printf("  %s:%s\n", ident.Type, ident.Value)
	}
	if order.CertificateID != "" {
		c.Printf("certificate: %s\n", order.CertificateID)
	}
}

func certHandler(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("usage: cert <kid> <certificateID>")
		return
	}
	ctx := context.Background()
	sess, err := getStore(c).Begin(ctx)
	cmd.FailOnError(errOrNil(err), "begin session")
	defer sess.Rollback(ctx)

	cert, err := sess.GetCertificate(ctx, c.Args[0], c.Args[1])
	if err != nil {
		c.Printf("cert: %s\n", err)
		return
	}
	c.Printf("status:           %s\n", cert.Status)
	c.Printf("order:            %s\n", cert.OrderID)
	if cert.Status == acme.CertificateRevoked {
		c.Printf("revocationReason: %d\n", cert.RevocationReason)
	}
}

func revokeHandler(c *ishell.Context) {
	if len(c.Args) < 2 || len(c.Args) > 3 {
		c.Println("usage: revoke <kid> <certificateID> [reasonCode]")
		return
	}
	reason := acme.ReasonUnspecified
	if len(c.Args) == 3 {
		var code int
		if _, err := fmt.Sscanf(c.Args[2], "%d", &code); err != nil {
			c.Printf("revoke: invalid reason code %q\n", c.Args[2])
			return
		}
		reason = acme.RevocationReason(code)
	}

	ctx := context.Background()
	sess, err := getStore(c).Begin(ctx)
	cmd.FailOnError(errOrNil(err), "begin session")

	cert, err := sess.GetCertificate(ctx, c.Args[0], c.Args[1])
	if err != nil {
		c.Printf("revoke: %s\n", err)
		sess.Rollback(ctx)
		return
	}
	cert.Status = acme.CertificateRevoked
	cert.RevocationReason = reason
	sess.Add(cert)
	if err := sess.Commit(ctx); err != nil {
		c.Printf("revoke: commit: %s\n", err)
		return
	}
	c.Printf("revoked %s (reason %d)\n", cert.CertificateID, reason)
}

// errOrNil lets a Begin failure route through cmd.FailOnError without an
// extra per-call if statement; Begin on the in-memory Store never actually
// fails, but the Store interface leaves room for one that can.
func errOrNil(err error) error {
	return err
}
