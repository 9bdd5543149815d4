package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"storefront-service/internal/auth"
	"storefront-service/internal/cart"
	"storefront-service/internal/client"
	"storefront-service/internal/config"
	"storefront-service/internal/consul"
	"storefront-service/internal/orders"
	"storefront-service/internal/pricing"
)

func cartCommand() *cli.Command {
	return &cli.Command{
		Name:  "cart",
		Usage: "buyer cart backed by a local file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Usage: "API base URL including the endpoint prefix", EnvVars: []string{"STOREFRONT_API"}},
			&cli.StringFlag{Name: "token", Usage: "bearer token of the buyer", EnvVars: []string{"STOREFRONT_TOKEN"}},
			&cli.StringFlag{Name: "file", Usage: "cart file", Value: defaultCartFile(), EnvVars: []string{"STOREFRONT_CART"}},
			&cli.StringFlag{Name: "consul", Usage: "discover the API through this Consul agent", EnvVars: []string{"CONSUL_ADDR"}},
			&cli.StringFlag{Name: "service", Usage: "service name registered in Consul", Value: "storefront"},
			&cli.StringFlag{Name: "prefix", Usage: "endpoint prefix used with Consul discovery", Value: "/v1"},
		},
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add a product",
				ArgsUsage: "<productId> [quantity]",
				Action:    cartAdd,
			},
			{
				Name:      "set",
				Usage:     "change the quantity of a line, 0 removes it",
				ArgsUsage: "<productId> <quantity>",
				Action: func(c *cli.Context) error {
					crt, err := openCart(c)
					if err != nil {
						return err
					}
					qty, err := strconv.Atoi(c.Args().Get(1))
					if err != nil {
						return fmt.Errorf("invalid quantity %q", c.Args().Get(1))
					}
					if err := crt.SetQuantity(c.Args().First(), qty); err != nil {
						return err
					}
					return printCart(crt.Snapshot())
				},
			},
			{
				Name:      "remove",
				Usage:     "remove a line",
				ArgsUsage: "<productId>",
				Action: func(c *cli.Context) error {
					crt, err := openCart(c)
					if err != nil {
						return err
					}
					if err := crt.Remove(c.Args().First()); err != nil {
						return err
					}
					return printCart(crt.Snapshot())
				},
			},
			{
				Name:  "show",
				Usage: "print the cart and its totals",
				Action: func(c *cli.Context) error {
					crt, err := openCart(c)
					if err != nil {
						return err
					}
					return printCart(crt.Snapshot())
				},
			},
			{
				Name:  "clear",
				Usage: "empty the cart",
				Action: func(c *cli.Context) error {
					crt, err := openCart(c)
					if err != nil {
						return err
					}
					return crt.Clear()
				},
			},
			{
				Name:   "place",
				Usage:  "place a manual order for the cart",
				Flags:  addressFlags(),
				Action: cartPlace,
			},
			{
				Name:  "checkout",
				Usage: "open a card payment page for the cart",
				Action: func(c *cli.Context) error {
					crt, err := openCart(c)
					if err != nil {
						return err
					}
					api, err := apiClient(c)
					if err != nil {
						return err
					}
					url, err := crt.Checkout(c.Context, api)
					if err != nil {
						return err
					}
					fmt.Println(url)
					return nil
				},
			},
			{
				Name:  "orders",
				Usage: "list your orders",
				Action: func(c *cli.Context) error {
					api, err := apiClient(c)
					if err != nil {
						return err
					}
					list, err := api.ListOrders(c.Context)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tSTATUS\tPAYMENT\tTOTAL\tCREATED")
					for _, o := range list {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.ID, o.Status, o.PaymentStatus,
							o.TotalAmount.StringFixed(2), o.CreatedAt.Format(time.RFC3339))
					}
					return w.Flush()
				},
			},
			{
				Name:  "categories",
				Usage: "list the storefront categories",
				Action: func(c *cli.Context) error {
					api, err := apiClient(c)
					if err != nil {
						return err
					}
					list, err := api.ListCategories(c.Context)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "SLUG\tNAME")
					for _, cat := range list {
						fmt.Fprintf(w, "%s\t%s\n", cat.Slug, cat.Name)
					}
					return w.Flush()
				},
			},
			{
				Name:  "addresses",
				Usage: "list your saved addresses",
				Action: func(c *cli.Context) error {
					api, err := apiClient(c)
					if err != nil {
						return err
					}
					list, err := api.ListAddresses(c.Context)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tADDRESS\tCITY\tDEFAULT")
					for _, a := range list {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", a.ID, a.FullName, a.Line1, a.City, a.IsDefault)
					}
					return w.Flush()
				},
			},
			{
				Name:      "pay",
				Usage:     "open a card payment page for an unpaid order",
				ArgsUsage: "<orderId>",
				Action: func(c *cli.Context) error {
					api, err := apiClient(c)
					if err != nil {
						return err
					}
					url, err := api.PayOrder(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(url)
					return nil
				},
			},
			{
				Name:      "download",
				Usage:     "print a signed download URL for a purchased product",
				ArgsUsage: "<productId>",
				Action: func(c *cli.Context) error {
					api, err := apiClient(c)
					if err != nil {
						return err
					}
					url, err := api.GetDownloadURL(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(url)
					return nil
				},
			},
		},
	}
}

func cartAdd(c *cli.Context) error {
	productID := c.Args().First()
	if productID == "" {
		return errors.New("product id is required")
	}
	qty := 1
	if arg := c.Args().Get(1); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid quantity %q", arg)
		}
		qty = n
	}

	api, err := apiClient(c)
	if err != nil {
		return err
	}
	products, err := api.ListProducts(c.Context)
	if err != nil {
		return err
	}
	for _, p := range products {
		if p.ID != productID {
			continue
		}
		crt, err := openCart(c)
		if err != nil {
			return err
		}
		if err := crt.Add(p.ID, p.Name, p.Price, qty); err != nil {
			return err
		}
		return printCart(crt.Snapshot())
	}
	return fmt.Errorf("product %s is not available", productID)
}

// cartPlace ships to the address given by flags, to the saved address
// named by --address-id, or to the default saved address.
func cartPlace(c *cli.Context) error {
	crt, err := openCart(c)
	if err != nil {
		return err
	}
	api, err := apiClient(c)
	if err != nil {
		return err
	}

	address := orders.ShippingAddress{
		FullName:   c.String("name"),
		Phone:      c.String("phone"),
		Email:      c.String("email"),
		Line1:      c.String("line1"),
		Line2:      c.String("line2"),
		City:       c.String("city"),
		State:      c.String("state"),
		PostalCode: c.String("postal-code"),
		Country:    c.String("country"),
	}
	if id := c.String("address-id"); id != "" || address.FullName == "" {
		address, err = savedAddress(c, api, id)
		if err != nil {
			return err
		}
	}

	order, err := crt.PlaceOrder(c.Context, api, address)
	if err != nil {
		return err
	}
	fmt.Printf("order %s placed, total %s, awaiting payment\n", order.ID, order.TotalAmount.StringFixed(2))
	return nil
}

func savedAddress(c *cli.Context, api *client.Client, id string) (orders.ShippingAddress, error) {
	list, err := api.ListAddresses(c.Context)
	if err != nil {
		return orders.ShippingAddress{}, err
	}
	for _, a := range list {
		if (id == "" && a.IsDefault) || a.ID == id {
			return a.Snapshot(c.String("email")), nil
		}
	}
	if id == "" {
		return orders.ShippingAddress{}, errors.New("no default address saved, pass --address-id or the address flags")
	}
	return orders.ShippingAddress{}, fmt.Errorf("address %s not found", id)
}

func addressFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "address-id", Usage: "ship to this saved address"},
		&cli.StringFlag{Name: "name", Usage: "full name"},
		&cli.StringFlag{Name: "phone"},
		&cli.StringFlag{Name: "email"},
		&cli.StringFlag{Name: "line1", Usage: "street address"},
		&cli.StringFlag{Name: "line2"},
		&cli.StringFlag{Name: "city"},
		&cli.StringFlag{Name: "state"},
		&cli.StringFlag{Name: "postal-code"},
		&cli.StringFlag{Name: "country"},
	}
}

func openCart(c *cli.Context) (*cart.Cart, error) {
	rate := pricing.DefaultTaxRate
	if cfg, err := config.Load(c.String("config")); err == nil {
		if r, err := cfg.Tax(); err == nil {
			rate = r
		}
	}
	return cart.New(cart.NewFileStore(c.String("file")), rate)
}

func apiClient(c *cli.Context) (*client.Client, error) {
	if base := c.String("api"); base != "" {
		return client.New(base, c.String("token"), &http.Client{Timeout: 30 * time.Second}), nil
	}
	if addr := c.String("consul"); addr != "" {
		cc, err := consul.NewClient(addr)
		if err != nil {
			return nil, err
		}
		return client.Discover(cc, c.String("service"), c.String("prefix"), c.String("token"), &http.Client{Timeout: 30 * time.Second})
	}
	return nil, errors.New("set --api or --consul to reach the storefront")
}

func printCart(s cart.Snapshot) error {
	if s.Empty() {
		fmt.Println("cart is empty")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tNAME\tQTY\tPRICE\tAMOUNT")
	for _, l := range s.Lines {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", l.ProductID, l.Name, l.Quantity,
			l.Price.StringFixed(2), pricing.LineTotal(l.Price, l.Quantity).StringFixed(2))
	}
	fmt.Fprintf(w, "\t\t\tSubtotal\t%s\n", s.Subtotal.StringFixed(2))
	fmt.Fprintf(w, "\t\t\tTax\t%s\n", s.Tax.StringFixed(2))
	fmt.Fprintf(w, "\t\t\tTotal\t%s\n", s.Total.StringFixed(2))
	return w.Flush()
}

func defaultCartFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "cart.cbor"
	}
	return filepath.Join(dir, "storefront", "cart.cbor")
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint a development bearer token signed with JWT_SECRET",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sub", Usage: "user id, random when empty"},
			&cli.StringFlag{Name: "email"},
			&cli.BoolFlag{Name: "admin", Usage: "grant the admin role"},
			&cli.DurationFlag{Name: "ttl", Value: time.Hour},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			keys, err := auth.NewKeys(cfg.JWTSecret)
			if err != nil {
				return err
			}
			claims := auth.Claims{Email: c.String("email"), Role: "authenticated"}
			claims.Subject = c.String("sub")
			if claims.Subject == "" {
				claims.Subject = uuid.NewString()
			}
			if c.Bool("admin") {
				claims.AppMetadata.Role = string(auth.RoleAdmin)
			}
			token, err := keys.GenerateToken(claims, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
