package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tablebook/internal/app"
	"tablebook/internal/booking"
	"tablebook/internal/chat"
	"tablebook/internal/config"
	"tablebook/internal/db"
	"tablebook/internal/migrate"
	"tablebook/internal/server"
	tablebooksdk "tablebook/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Tablebook CLI",
	Long: `Tablebook runs a restaurant reservation service with paid pre-orders.
Book a table, pick menu items, pay up front, and the reservation is only
stored once the payment settles. The same binary serves the HTTP API and
acts as the booking client.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TABLEBOOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8787", "API server base URL")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(menuCmd())
	rootCmd.AddCommand(bookCmd())
	rootCmd.AddCommand(reservationsCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config %s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(uuid.NewString())), 0o600); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.CurrentVersion(conn)
			if err != nil {
				return err
			}
			fmt.Printf("Workspace ready: %s (schema v%d)\n", path, v)
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Resolve(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			broker := &chat.Broker{
				APIKey:     rt.Config.Chat.OpenAIAPIKey,
				WorkflowID: rt.Config.Chat.WorkflowID,
			}
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				Chat:     broker,
				BasePath: rt.Config.Server.BasePath,
			})
			if err != nil {
				return err
			}
			addr := rt.Config.Server.Listen
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Tablebook API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				addr, rt.Config.Server.BasePath, rt.Config.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	return cmd
}

func registerCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient("")
			res, err := client.Register(cmd.Context(), email, name, password)
			if err != nil {
				return err
			}
			if err := app.SaveToken(viper.GetString("workspace"), res.AccessToken); err != nil {
				return err
			}
			fmt.Printf("Registered %s; you are signed in.\n", res.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient("")
			res, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := app.SaveToken(viper.GetString("workspace"), res.AccessToken); err != nil {
				return err
			}
			fmt.Printf("Signed in as %s.\n", res.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ClearToken(viper.GetString("workspace"))
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := authedClient()
			if err != nil {
				return err
			}
			u, err := client.Me(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(u)
		},
	}
}

func menuCmd() *cobra.Command {
	menu := &cobra.Command{Use: "menu", Short: "Browse menus"}
	menu.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available menus",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := authedClient()
			if err != nil {
				return err
			}
			items, err := client.ListMenus(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Name", "Price", "Description"})
			for i, m := range items {
				tw.AppendRow(table.Row{i + 1, m.Name, m.Price, m.Description})
			}
			tw.Render()
			return nil
		},
	})
	return menu
}

func bookCmd() *cobra.Command {
	var date, timeOfDay, requests, paymentMethod string
	var party int
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a table with a paid pre-order",
		Long: `Interactive booking: pick menu quantities, submit once to provision the
payment, provide the payment method, and submit again to confirm and store
the reservation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := authedClient()
			if err != nil {
				return err
			}
			pubKey, err := client.PublishableKey(cmd.Context())
			if err != nil {
				return err
			}
			ui := &consoleRenderer{out: os.Stdout}
			flow := booking.NewFlow(client, &stripeConfirmer{publishableKey: pubKey}, ui)
			if cfg, _ := config.LoadOptional(viper.GetString("workspace")); cfg != nil {
				flow.CallTimeout = cfg.CallTimeout()
			}

			menus, err := flow.LoadMenus(cmd.Context())
			if err != nil {
				return err
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Name", "Price"})
			for i, m := range menus {
				tw.AppendRow(table.Row{i + 1, m.Name, m.Price})
			}
			tw.Render()

			in := bufio.NewScanner(os.Stdin)
			fmt.Println(`Pick items: "add <#>", "rm <#>", "done".`)
			for {
				fmt.Print("> ")
				if !in.Scan() {
					return in.Err()
				}
				line := strings.TrimSpace(in.Text())
				if line == "done" {
					break
				}
				fields := strings.Fields(line)
				if len(fields) != 2 {
					fmt.Println("use: add <#> | rm <#> | done")
					continue
				}
				idx, err := strconv.Atoi(fields[1])
				if err != nil || idx < 1 || idx > len(menus) {
					fmt.Println("no such item")
					continue
				}
				switch fields[0] {
				case "add":
					flow.Add(menus[idx-1].ID)
				case "rm":
					flow.Remove(menus[idx-1].ID)
				default:
					fmt.Println("use: add <#> | rm <#> | done")
				}
			}

			details := booking.ReservationDetails{
				Date:            promptIfEmpty(in, date, "Date (YYYY-MM-DD)"),
				Time:            promptIfEmpty(in, timeOfDay, "Time (HH:MM)"),
				PartySize:       party,
				SpecialRequests: requests,
			}
			if details.PartySize == 0 {
				n, _ := strconv.Atoi(promptIfEmpty(in, "", "Party size"))
				details.PartySize = n
			}

			// Submit one: provision the payment.
			if err := flow.Submit(cmd.Context(), details, booking.CardDetails{}); err != nil {
				return err
			}
			card := booking.CardDetails{
				PaymentMethod: promptIfEmpty(in, paymentMethod, "Payment method (e.g. pm_card_visa)"),
			}
			// Submit two: confirm and store the reservation.
			if err := flow.Submit(cmd.Context(), details, card); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "reservation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&timeOfDay, "time", "", "reservation time (HH:MM)")
	cmd.Flags().IntVar(&party, "party-size", 0, "party size")
	cmd.Flags().StringVar(&requests, "requests", "", "special requests")
	cmd.Flags().StringVar(&paymentMethod, "payment-method", "", "payment method id")
	return cmd
}

func reservationsCmd() *cobra.Command {
	res := &cobra.Command{Use: "reservations", Short: "Manage reservations"}
	res.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := newListFlow()
			if err != nil {
				return err
			}
			return flow.RefreshReservations(cmd.Context())
		},
	})

	var interval time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Poll and re-render your reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := newListFlow()
			if err != nil {
				return err
			}
			if interval == 0 {
				interval = 30 * time.Second
				if cfg, _ := config.LoadOptional(viper.GetString("workspace")); cfg != nil {
					interval = cfg.RefreshInterval()
				}
			}
			ref := booking.NewRefresher(flow, interval)
			ref.Start(cmd.Context())
			<-cmd.Context().Done()
			ref.Stop()
			return nil
		},
	}
	watch.Flags().DurationVar(&interval, "interval", 0, "refresh interval")
	res.AddCommand(watch)

	var yes bool
	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a reservation (refunds a paid pre-order)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := newListFlow()
			if err != nil {
				return err
			}
			if err := flow.RefreshReservations(cmd.Context()); err != nil {
				return err
			}
			return flow.Cancel(cmd.Context(), args[0], consolePrompt{assumeYes: yes, in: bufio.NewScanner(os.Stdin)})
		},
	}
	cancel.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	res.AddCommand(cancel)
	return res
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Resolve(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			events, err := rt.Engine.Repo.ListEvents(cmd.Context(), n)
			if err != nil {
				return err
			}
			return printJSONOrTable(events)
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	log.AddCommand(tail)
	return log
}

// --- helpers ---

func newClient(token string) *tablebooksdk.Client {
	c := tablebooksdk.New(viper.GetString("server"))
	c.BearerToken = token
	return c
}

func authedClient() (*tablebooksdk.Client, error) {
	token, err := app.LoadToken(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("not signed in; run tb login first")
	}
	return newClient(token), nil
}

func newListFlow() (*booking.Flow, error) {
	client, err := authedClient()
	if err != nil {
		return nil, err
	}
	return booking.NewFlow(client, nil, &consoleRenderer{out: os.Stdout}), nil
}

func promptIfEmpty(in *bufio.Scanner, value, label string) string {
	if value != "" {
		return value
	}
	fmt.Printf("%s: ", label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// consoleRenderer renders flow state to the terminal.
type consoleRenderer struct {
	out io.Writer
}

func (r *consoleRenderer) SubmitEnabled(enabled bool) {
	if !enabled {
		fmt.Fprintln(r.out, "… working")
	}
}

func (r *consoleRenderer) ShowPhase(phase booking.Phase) {
	switch phase {
	case booking.PhaseAwaitingPaymentInput:
		fmt.Fprintln(r.out, "Payment provisioned; enter payment details and submit again.")
	case booking.PhaseSucceeded:
		fmt.Fprintln(r.out, "Reservation confirmed. Thank you!")
	}
}

func (r *consoleRenderer) ShowTotal(total int64, items []tablebooksdk.LineItem) {
	fmt.Fprintf(r.out, "Selection: %d line(s), total %d\n", len(items), total)
}

func (r *consoleRenderer) ShowError(err error) {
	fmt.Fprintln(r.out, "!", err)
}

func (r *consoleRenderer) ShowReservations(items []tablebooksdk.Reservation) {
	tw := table.NewWriter()
	tw.SetOutputMirror(r.out)
	tw.AppendHeader(table.Row{"ID", "Date", "Time", "Party", "Status", "Payment", "Amount"})
	for _, res := range items {
		tw.AppendRow(table.Row{res.ID, res.Date, res.Time, res.PartySize, res.Status, res.PaymentStatus, res.Amount})
	}
	tw.Render()
}

func (r *consoleRenderer) ShowNoReservations() {
	fmt.Fprintln(r.out, "No reservations yet.")
}

// consolePrompt asks for cancel confirmation on stdin.
type consolePrompt struct {
	assumeYes bool
	in        *bufio.Scanner
}

func (p consolePrompt) ConfirmCancellation(res tablebooksdk.Reservation) bool {
	if p.assumeYes {
		return true
	}
	fmt.Printf("Cancel reservation on %s %s for %d? A paid pre-order will be refunded. [y/N] ", res.Date, res.Time, res.PartySize)
	if !p.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(p.in.Text()))
	return answer == "y" || answer == "yes"
}

// stripeConfirmer confirms a provisioned intent the way the hosted payment
// widget does: against the processor's client-facing API using the
// publishable key and the handle's client secret.
type stripeConfirmer struct {
	publishableKey string
	httpClient     *http.Client
}

func (s *stripeConfirmer) ConfirmPayment(ctx context.Context, handle tablebooksdk.PaymentIntent, card booking.CardDetails) (booking.ConfirmResult, error) {
	if card.PaymentMethod == "" {
		return booking.ConfirmResult{}, booking.ValidationError{Msg: "a payment method is required"}
	}
	client := s.httpClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	form := url.Values{}
	form.Set("payment_method", card.PaymentMethod)
	form.Set("client_secret", handle.ClientSecret)
	endpoint := fmt.Sprintf("https://api.stripe.com/v1/payment_intents/%s/confirm", url.PathEscape(handle.PaymentIntentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return booking.ConfirmResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.publishableKey, "")
	resp, err := client.Do(req)
	if err != nil {
		return booking.ConfirmResult{}, err
	}
	defer resp.Body.Close()
	var out struct {
		Status string `json:"status"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return booking.ConfirmResult{}, err
	}
	if out.Error != nil {
		return booking.ConfirmResult{Status: booking.ConfirmDeclined}, nil
	}
	return booking.ConfirmResult{Status: out.Status}, nil
}
