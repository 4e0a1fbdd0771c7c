package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/repolens/internal/model"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories visible to the token",
	Args:  cobra.NoArgs,
	RunE:  runRepos,
}

var treeCmd = &cobra.Command{
	Use:   "tree OWNER/REPO",
	Short: "Print the file tree of a branch",
	Long: `Print the file tree of a repository branch. Files with a stored
review are marked with a check.`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

var (
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))
	folderStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8be9fd")).Bold(true)
	reviewedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#50fa7b"))
)

func init() {
	treeCmd.Flags().String("ref", "", "branch to list (default: repository default branch)")
}

func runRepos(cmd *cobra.Command, args []string) error {
	_, host, err := connect(cmd)
	if err != nil {
		return err
	}

	repos, err := host.Repos(cmd.Context())
	if err != nil {
		return fmt.Errorf("list repositories: %w", err)
	}
	if len(repos) == 0 {
		fmt.Println("No repositories found.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("REPOSITORY", "LANGUAGE", "STARS", "FORKS", "DEFAULT")
	for _, r := range repos {
		t.Row(r.FullName, r.Language, strconv.Itoa(r.Stars), strconv.Itoa(r.Forks), r.DefaultBranch)
	}
	fmt.Println(t)
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	ref, _ := cmd.Flags().GetString("ref")

	c, err := openRepo(cmd, args[0], ref)
	if err != nil {
		return err
	}

	snap := c.Snapshot()
	if len(snap.Tree) == 0 {
		fmt.Printf("%s/%s@%s is empty.\n", snap.Owner, snap.Repo, snap.Branch)
		return nil
	}

	reviewed := make(map[string]bool, len(snap.Reviewed))
	for _, p := range snap.Reviewed {
		reviewed[p] = true
	}

	root := tree.Root(folderStyle.Render(fmt.Sprintf("%s/%s@%s", snap.Owner, snap.Repo, snap.Branch))).
		Enumerator(tree.RoundedEnumerator)
	addNodes(root, snap.Tree, reviewed)
	fmt.Println(root)
	return nil
}

func addNodes(t *tree.Tree, nodes []model.TreeNode, reviewed map[string]bool) {
	for _, n := range nodes {
		if n.IsFolder() {
			sub := tree.Root(folderStyle.Render(n.Name))
			addNodes(sub, n.Children, reviewed)
			t.Child(sub)
			continue
		}
		label := n.Name
		if reviewed[n.Path] {
			label += " " + reviewedStyle.Render("✓")
		}
		t.Child(label)
	}
}
