package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/booktracker/booktracker/internal/bookapi"
	"github.com/booktracker/booktracker/internal/guard"
)

// protected marks cmd as needing a logged-in session.
func protected(g *guard.Guard, cmd *cobra.Command) *cobra.Command {
	g.RequireAuth(cmd)
	return withSession(cmd)
}

func (c *cli) searchCommand(g *guard.Guard) *cobra.Command {
	var page, size int

	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search the book catalogue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.components.Books.Search(cmd.Context(), strings.Join(args, " "), page, size)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tYEAR")
			for _, b := range res.Books {
				year := ""
				if b.PublishedYear > 0 {
					year = strconv.Itoa(b.PublishedYear)
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Title, b.Author, year)
			}
			_ = tw.Flush()
			_, _ = fmt.Fprintln(out, dimStyle.Render(pageFooter(res.TotalItems, res.CurrentPage, res.TotalPages)))
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "Page number (zero-based)")
	cmd.Flags().IntVar(&size, "size", 20, "Results per page")
	return protected(g, cmd)
}

func pageFooter(total, current, pages int) string {
	if pages == 0 {
		return fmt.Sprintf("%d result(s)", total)
	}
	return fmt.Sprintf("%d result(s), page %d of %d", total, current+1, pages)
}

func (c *cli) shelfCommand(g *guard.Guard) *cobra.Command {
	shelf := &cobra.Command{
		Use:   "shelf",
		Short: "Manage the books on your shelves",
		Long: `Manage the books on your shelves.

Shelves: WANT_TO_READ, CURRENTLY_READING, READ, DNF (case-insensitive).`,
	}

	var page, size int
	list := &cobra.Command{
		Use:   "list [shelf]",
		Short: "List books, optionally on one shelf",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status bookapi.ReadingStatus
			if len(args) == 1 {
				st, err := bookapi.ParseReadingStatus(args[0])
				if err != nil {
					return err
				}
				status = st
			}
			lp, err := c.components.Library.UserBooks(cmd.Context(), status, page, size)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			writeUserBooks(out, lp.Books)
			_, _ = fmt.Fprintln(out, dimStyle.Render(pageFooter(lp.TotalItems, lp.CurrentPage, lp.TotalPages)))
			return nil
		},
	}
	list.Flags().IntVar(&page, "page", 0, "Page number (zero-based)")
	list.Flags().IntVar(&size, "size", 20, "Results per page")

	var addStatus string
	add := &cobra.Command{
		Use:   "add <book-id>",
		Short: "Put a book on a shelf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := bookapi.ParseReadingStatus(addStatus)
			if err != nil {
				return err
			}
			ub, err := c.components.Library.Add(cmd.Context(), args[0], st)
			if err != nil {
				return err
			}
			return printUserBook(cmd.OutOrStdout(), "Added", ub)
		},
	}
	add.Flags().StringVar(&addStatus, "status", string(bookapi.WantToRead), "Shelf to put the book on")

	status := &cobra.Command{
		Use:   "status <book-id> <shelf>",
		Short: "Move a book to another shelf",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := bookapi.ParseReadingStatus(args[1])
			if err != nil {
				return err
			}
			ub, err := c.components.Library.UpdateStatus(cmd.Context(), args[0], st)
			if err != nil {
				return err
			}
			return printUserBook(cmd.OutOrStdout(), "Moved", ub)
		},
	}

	progress := &cobra.Command{
		Use:   "progress <book-id> <current-page> <total-pages>",
		Short: "Record reading progress",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid current page %q", args[1])
			}
			total, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid total pages %q", args[2])
			}
			ub, err := c.components.Library.UpdateProgress(cmd.Context(), args[0], current, total)
			if err != nil {
				return err
			}
			return printUserBook(cmd.OutOrStdout(), "Updated", ub)
		},
	}

	review := &cobra.Command{
		Use:   "review <book-id> <rating> [review]...",
		Short: "Rate a book from 1 to 5",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rating %q", args[1])
			}
			ub, err := c.components.Library.Review(cmd.Context(), args[0], rating, strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			return printUserBook(cmd.OutOrStdout(), "Reviewed", ub)
		},
	}

	for _, sub := range []*cobra.Command{list, add, status, progress, review} {
		shelf.AddCommand(protected(g, sub))
	}
	return shelf
}

func writeUserBooks(out io.Writer, books []bookapi.UserBook) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BOOK\tSHELF\tPROGRESS\tRATING")
	for _, ub := range books {
		progress, rating := "", ""
		if ub.TotalPages > 0 {
			progress = fmt.Sprintf("%d/%d", ub.CurrentPage, ub.TotalPages)
		}
		if ub.Rating > 0 {
			rating = strings.Repeat("*", ub.Rating)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ub.BookID, ub.Status, progress, rating)
	}
	_ = tw.Flush()
}

func printUserBook(out io.Writer, verb string, ub *bookapi.UserBook) error {
	_, err := fmt.Fprintf(out, "%s %s (%s)\n", okStyle.Render(verb), ub.BookID, ub.Status)
	return err
}

func (c *cli) statsCommand(g *guard.Guard) *cobra.Command {
	var bookID, month string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show reading statistics",
		Long: `Show reading statistics.

With --book, show the reading history of one book. With --month YYYY-MM,
show the progress recorded in that month.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch {
			case bookID != "":
				pts, err := c.components.Analytics.Progress(cmd.Context(), bookID)
				if err != nil {
					return err
				}
				writeProgress(out, pts)
				return nil
			case month != "":
				t, err := time.Parse("2006-01", month)
				if err != nil {
					return fmt.Errorf("invalid month %q: want YYYY-MM", month)
				}
				pts, err := c.components.Analytics.Monthly(cmd.Context(), t.Year(), int(t.Month()))
				if err != nil {
					return err
				}
				writeProgress(out, pts)
				return nil
			}

			st, err := c.components.Analytics.Stats(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, titleStyle.Render("Reading statistics"))
			_, _ = fmt.Fprint(out,
				row("Books read", strconv.Itoa(st.TotalBooksRead)),
				row("This month", fmt.Sprintf("%d books, %d pages", st.BooksReadThisMonth, st.PagesReadThisMonth)),
				row("Avg rating", fmt.Sprintf("%.1f", st.AverageRating)),
				row("Streak", fmt.Sprintf("%d day(s)", st.ReadingStreak)),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "Show progress for one book")
	cmd.Flags().StringVar(&month, "month", "", "Show progress for one month (YYYY-MM)")
	cmd.MarkFlagsMutuallyExclusive("book", "month")
	return protected(g, cmd)
}

func writeProgress(out io.Writer, pts []bookapi.ProgressPoint) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DATE\tPAGES READ\tTOTAL PAGES")
	for _, p := range pts {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\n", p.Date, p.PagesRead, p.TotalPages)
	}
	_ = tw.Flush()
}

func (c *cli) notificationsCommand(g *guard.Guard) *cobra.Command {
	var unreadOnly bool

	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notify"},
		Short:   "List notifications",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if unreadOnly {
				n, err := c.components.Notifications.UnreadCount(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "%d unread\n", n)
				return nil
			}

			list, err := c.components.Notifications.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTYPE\tMESSAGE\t")
			for _, n := range list {
				mark := ""
				if !n.Read {
					mark = "new"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.Type, n.Message, mark)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread-count", false, "Only print the number of unread notifications")

	read := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.components.Notifications.MarkRead(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Marked as read")
			return nil
		},
	}

	var prefs bookapi.Preferences
	prefsCmd := &cobra.Command{
		Use:   "prefs",
		Short: "Set notification preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.components.Notifications.UpdatePreferences(cmd.Context(), prefs); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Preferences saved")
			return nil
		},
	}
	prefsCmd.Flags().BoolVar(&prefs.EnableEmailNotifications, "email", false, "Send notifications by email")
	prefsCmd.Flags().BoolVar(&prefs.EnablePushNotifications, "push", false, "Send push notifications")
	prefsCmd.Flags().BoolVar(&prefs.ReadingReminders, "reminders", false, "Send reading reminders")

	cmd.AddCommand(protected(g, read), protected(g, prefsCmd))
	return protected(g, cmd)
}
