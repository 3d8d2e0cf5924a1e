package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dealflow/cmd/cli/client"
)

func apiClient() *client.APIClient {
	return client.NewAPIClient(viper.GetString("server"))
}

func newLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to Dealflow",
		Run: func(cmd *cobra.Command, args []string) {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")

			token, err := apiClient().Login(username, password)
			if err != nil {
				fmt.Printf("Login failed: %v\n", err)
				return
			}

			viper.Set("token", token)
			if err := viper.WriteConfig(); err != nil {
				_ = viper.SafeWriteConfig()
			}
			fmt.Println("Login successful")
		},
	}
	cmd.Flags().String("username", "", "username")
	cmd.Flags().String("password", "", "password")
	return cmd
}

func newSeriesCommand() *cobra.Command {
	seriesCmd := &cobra.Command{
		Use:   "series",
		Short: "Manage recurring billing series",
	}

	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List series",
		Run: func(cmd *cobra.Command, args []string) {
			page, err := apiClient().ListSeries(status)
			if err != nil {
				fmt.Printf("Error listing series: %v\n", err)
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tFREQUENCY\tSTATUS\tNEXT\tGENERATED\t")
			for _, s := range page.Items {
				next := "-"
				if s.NextScheduledAt != nil {
					next = s.NextScheduledAt.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t\n",
					s.UUID, s.Frequency, s.Status, next, s.DealsGenerated)
			}
			w.Flush()
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "filter by status")

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one series",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s, err := apiClient().GetSeries(args[0])
			if err != nil {
				fmt.Printf("Error getting series: %v\n", err)
				return
			}
			fmt.Printf("ID:        %s\n", s.UUID)
			fmt.Printf("Frequency: %s\n", s.Frequency)
			fmt.Printf("Status:    %s\n", s.Status)
			fmt.Printf("Timezone:  %s\n", s.Timezone)
			fmt.Printf("Generated: %d\n", s.DealsGenerated)
			if s.NextScheduledAt != nil {
				fmt.Printf("Next:      %s\n", s.NextScheduledAt.Format("2006-01-02"))
			}
		},
	}

	var limit int
	upcomingCmd := &cobra.Command{
		Use:   "upcoming [id]",
		Short: "Show upcoming occurrences",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := apiClient().UpcomingSeries(args[0], limit)
			if err != nil {
				fmt.Printf("Error getting upcoming occurrences: %v\n", err)
				return
			}
			for _, d := range resp.Occurrences {
				fmt.Println(d.Format("2006-01-02"))
			}
		},
	}
	upcomingCmd.Flags().IntVar(&limit, "limit", 5, "number of occurrences")

	pauseCmd := &cobra.Command{
		Use:   "pause [id]",
		Short: "Pause a series",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := apiClient().PauseSeries(args[0]); err != nil {
				fmt.Printf("Error pausing series: %v\n", err)
				return
			}
			fmt.Println("Series paused")
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume [id]",
		Short: "Resume a paused series",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := apiClient().ResumeSeries(args[0]); err != nil {
				fmt.Printf("Error resuming series: %v\n", err)
				return
			}
			fmt.Println("Series resumed")
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a series",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := apiClient().CancelSeries(args[0]); err != nil {
				fmt.Printf("Error canceling series: %v\n", err)
				return
			}
			fmt.Println("Series canceled")
		},
	}

	seriesCmd.AddCommand(listCmd, getCmd, upcomingCmd, pauseCmd, resumeCmd, cancelCmd)
	return seriesCmd
}
