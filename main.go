package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/op/go-logging"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/multix-dev/multix/config"
	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/engine"
	"github.com/multix-dev/multix/logger"
	"github.com/multix-dev/multix/service"
	"github.com/multix-dev/multix/sub"
	"github.com/multix-dev/multix/util/common"
	"github.com/multix-dev/multix/xui"
)

func parseId(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func initApp() error {
	_ = godotenv.Load()

	switch config.GetLogLevel() {
	case config.Debug:
		logger.InitLogger(logging.DEBUG)
	case config.Info:
		logger.InitLogger(logging.INFO)
	case config.Notice:
		logger.InitLogger(logging.NOTICE)
	case config.Warn:
		logger.InitLogger(logging.WARNING)
	case config.Error:
		logger.InitLogger(logging.ERROR)
	default:
		return fmt.Errorf("unknown log level: %s", config.GetLogLevel())
	}

	return database.InitDB(config.GetDBPath())
}

func runEngine() error {
	log.Printf("%v %v", config.GetName(), config.GetVersion())

	e := engine.NewEngine()
	if err := e.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	e.Stop()
	logger.CloseLogger()
	return database.CloseDB()
}

func newPanelCmd() *cobra.Command {
	panelService := service.PanelService{}
	syncService := service.InboundSyncService{}

	cmd := &cobra.Command{Use: "panel", Short: "Manage remote panels"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List panels with health and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			panels, err := panelService.GetAllPanels()
			if err != nil {
				return err
			}
			for _, p := range panels {
				health := "unknown"
				if p.IsHealthy != nil {
					if *p.IsHealthy {
						health = "healthy"
					} else {
						health = "unhealthy"
					}
				}
				fmt.Printf("%d\t%s\t%s\tlocation=%d\tactive=%v\thealth=%s\n",
					p.Id, p.Name, p.BaseUrl, p.LocationId, p.IsActive, health)
			}
			return nil
		},
	}

	var (
		addName     string
		addType     string
		addURL      string
		addLocation int
		addUsername string
		addPassword string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			panel, err := panelService.CreatePanel(addName, model.PanelType(addType), addURL, addLocation, addUsername, addPassword)
			if err != nil {
				return err
			}
			fmt.Printf("panel %d created\n", panel.Id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&addName, "name", "", "panel name")
	addCmd.Flags().StringVar(&addType, "type", string(model.PanelTypeXUI), "panel API dialect")
	addCmd.Flags().StringVar(&addURL, "url", "", "panel base URL")
	addCmd.Flags().IntVar(&addLocation, "location", 0, "location id")
	addCmd.Flags().StringVar(&addUsername, "username", "", "panel username")
	addCmd.Flags().StringVar(&addPassword, "password", "", "panel password")
	_ = addCmd.MarkFlagRequired("name")
	_ = addCmd.MarkFlagRequired("url")
	_ = addCmd.MarkFlagRequired("location")
	_ = addCmd.MarkFlagRequired("username")
	_ = addCmd.MarkFlagRequired("password")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a panel (blocked while it has active clients)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			return panelService.DeletePanel(id)
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health <id>",
		Short: "Probe a panel and update its health flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			healthy, msg, err := panelService.CheckPanelHealth(cmd.Context(), id)
			if err != nil {
				return err
			}
			if healthy {
				fmt.Println("healthy")
			} else {
				fmt.Printf("unhealthy: %s\n", msg)
			}
			return nil
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync <id>",
		Short: "Sync one panel's inbounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			fetched, processed, err := syncService.SyncPanelInbounds(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("fetched %d inbounds, %d changed\n", fetched, processed)
			return nil
		},
	}

	cmd.AddCommand(listCmd, addCmd, deleteCmd, healthCmd, syncCmd)
	return cmd
}

func newLocationCmd() *cobra.Command {
	locationService := service.LocationService{}

	cmd := &cobra.Command{Use: "location", Short: "Manage locations"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			locations, err := locationService.GetAllLocations()
			if err != nil {
				return err
			}
			for _, l := range locations {
				fmt.Printf("%d\t%s\t%s\n", l.Id, l.Flag, l.Name)
			}
			return nil
		},
	}

	var addName, addFlag string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := locationService.AddLocation(addName, addFlag)
			if err != nil {
				return err
			}
			fmt.Printf("location %d created\n", location.Id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&addName, "name", "", "location name")
	addCmd.Flags().StringVar(&addFlag, "flag", "", "flag or marker")
	_ = addCmd.MarkFlagRequired("name")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a location (blocked while active panels reference it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			return locationService.DeleteLocation(id)
		},
	}

	cmd.AddCommand(listCmd, addCmd, deleteCmd)
	return cmd
}

func newSyncCmd() *cobra.Command {
	syncService := service.InboundSyncService{}
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync inbounds from all active panels",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := syncService.SyncAllPanels(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					fmt.Printf("%s (%d): failed: %v\n", r.PanelName, r.PanelId, r.Err)
					continue
				}
				fmt.Printf("%s (%d): fetched %d, changed %d\n", r.PanelName, r.PanelId, r.Fetched, r.Processed)
			}
			return nil
		},
	}
}

func newClientCmd() *cobra.Command {
	provisionService := service.ProvisionService{}

	cmd := &cobra.Command{Use: "client", Short: "Inspect provisioned clients"}

	var email string
	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show remote traffic counters for a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			db := database.GetDB()

			var record model.PanelClient
			if err := db.Where("email = ? AND is_active = ?", email, true).First(&record).Error; err != nil {
				if database.IsNotFound(err) {
					return fmt.Errorf("client %s: %w", email, common.ErrNotFound)
				}
				return err
			}
			ident, err := xui.NewIdentifier(record.Protocol, record.Identifier)
			if err != nil {
				return err
			}

			traffic, err := provisionService.GetClientUsage(cmd.Context(), record.PanelId, ident)
			if err != nil {
				return err
			}
			if traffic == nil {
				fmt.Println("no usage data: the panel no longer knows this client")
				return nil
			}
			fmt.Printf("up=%s down=%s total=%s\n",
				common.FormatTraffic(traffic.Up),
				common.FormatTraffic(traffic.Down),
				common.FormatTraffic(traffic.Up+traffic.Down))
			if traffic.Total > 0 {
				fmt.Printf("quota=%s\n", common.FormatTraffic(traffic.Total))
			}
			return nil
		},
	}
	usageCmd.Flags().StringVar(&email, "email", "", "client email")
	_ = usageCmd.MarkFlagRequired("email")

	cmd.AddCommand(usageCmd)
	return cmd
}

func newLinkCmd() *cobra.Command {
	panelService := service.PanelService{}
	linkService := sub.LinkService{}

	var (
		email  string
		remark string
		qrPath string
	)
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Render the connection URI for a provisioned client",
		RunE: func(cmd *cobra.Command, args []string) error {
			db := database.GetDB()

			var record model.PanelClient
			if err := db.Where("email = ? AND is_active = ?", email, true).First(&record).Error; err != nil {
				if database.IsNotFound(err) {
					return fmt.Errorf("client %s: %w", email, common.ErrNotFound)
				}
				return err
			}

			panel, err := panelService.GetPanel(record.PanelId)
			if err != nil {
				return err
			}
			var inbound model.InboundListener
			if err := db.First(&inbound, record.InboundId).Error; err != nil {
				return err
			}
			ident, err := xui.NewIdentifier(record.Protocol, record.Identifier)
			if err != nil {
				return err
			}

			if remark == "" {
				remark = email
			}
			link, err := linkService.GenerateConfigLink(panel, &inbound, ident, remark)
			if err != nil {
				return err
			}
			if link == "" {
				return fmt.Errorf("no link format for protocol %q", record.Protocol)
			}
			fmt.Println(link)

			if qrPath != "" {
				if err := qrcode.WriteFile(link, qrcode.Medium, 256, qrPath); err != nil {
					return err
				}
				fmt.Printf("qr written to %s\n", qrPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "client email")
	cmd.Flags().StringVar(&remark, "remark", "", "link remark (defaults to email)")
	cmd.Flags().StringVar(&qrPath, "qr", "", "write a QR code PNG to this path")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:   config.GetName(),
		Short: "Multi-panel VPN orchestration engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine with its background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine()
		},
	}

	rootCmd.AddCommand(runCmd, newPanelCmd(), newLocationCmd(), newSyncCmd(), newClientCmd(), newLinkCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
