// Package cli defines the lsp-bridge command surface. Every command builds
// a Manager for the working directory, runs one operation, prints the
// result, and shuts the manager down.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lsp-bridge/src/config"
	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/registry"
	versionpkg "lsp-bridge/src/internal/version"
	"lsp-bridge/src/server"
)

// CLI Constants
const (
	CmdDiagnostics = "diagnostics"
	CmdDefinition  = "definition"
	CmdReferences  = "references"
	CmdHover       = "hover"
	CmdSignature   = "signature"
	CmdSymbols     = "symbols"
	CmdRename      = "rename"
	CmdCodeActions = "code-actions"
	CmdStatus      = "status"
	CmdVersion     = "version"
	FlagConfig     = "config"
	FlagTimeout    = "timeout"
	FlagJSON       = "json"
	FlagCwd        = "cwd"
)

// CLI Variables
var (
	configPath string
	timeoutSec int
	formatJSON bool
	workDir    string
)

// Root command
var rootCmd = &cobra.Command{
	Use:   "lsp-bridge",
	Short: "LSP Bridge - synchronous language server access for coding tools",
	Long: `LSP Bridge manages language server processes and exposes their
asynchronous protocol as plain request/response operations.

QUICK START:
  lsp-bridge diagnostics main.go           # Sync a file and wait for diagnostics
  lsp-bridge definition main.go 10 5       # Jump to definition (1-based line/column)
  lsp-bridge status                        # Show language server availability

SUPPORTED LANGUAGES:
  - Go (gopls)
  - TypeScript/JavaScript (typescript-language-server)
  - Python (pylsp)
  - Rust (rust-analyzer)
  - Java (jdtls)
  - C/C++ (clangd)

Servers spawn lazily on the first file of their language and are reused
for the rest of the run. Positions on the command line are 1-based.

Use 'lsp-bridge <command> --help' for detailed command information.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command definitions
var (
	diagnosticsCmd = &cobra.Command{
		Use:   CmdDiagnostics + " <file> [file...]",
		Short: "Sync files and wait for fresh diagnostics",
		Long: `Push the current on-disk content of each file to its language server
and wait until diagnostics arrive or the timeout elapses. An empty result
with receivedResponse=true means the server analyzed the file and found
nothing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDiagnosticsCmd,
	}

	definitionCmd = &cobra.Command{
		Use:   CmdDefinition + " <file> <line> <column>",
		Short: "Find where the symbol at a position is defined",
		Args:  cobra.ExactArgs(3),
		RunE:  runDefinitionCmd,
	}

	referencesCmd = &cobra.Command{
		Use:   CmdReferences + " <file> <line> <column>",
		Short: "Find all references to the symbol at a position",
		Args:  cobra.ExactArgs(3),
		RunE:  runReferencesCmd,
	}

	hoverCmd = &cobra.Command{
		Use:   CmdHover + " <file> <line> <column>",
		Short: "Show type and documentation for the symbol at a position",
		Args:  cobra.ExactArgs(3),
		RunE:  runHoverCmd,
	}

	signatureCmd = &cobra.Command{
		Use:   CmdSignature + " <file> <line> <column>",
		Short: "Show call signature help at a position",
		Args:  cobra.ExactArgs(3),
		RunE:  runSignatureCmd,
	}

	symbolsCmd = &cobra.Command{
		Use:   CmdSymbols + " <file>",
		Short: "List the symbol outline of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSymbolsCmd,
	}

	renameCmd = &cobra.Command{
		Use:   CmdRename + " <file> <line> <column> <new-name>",
		Short: "Compute the workspace edit renaming the symbol at a position",
		Long: `Compute the edit without applying it. The output lists every file and
text change the rename would make.`,
		Args: cobra.ExactArgs(4),
		RunE: runRenameCmd,
	}

	codeActionsCmd = &cobra.Command{
		Use:   CmdCodeActions + " <file> <start-line> <start-col> <end-line> <end-col>",
		Short: "List fixes and refactorings available for a range",
		Args:  cobra.ExactArgs(5),
		RunE:  runCodeActionsCmd,
	}

	statusCmd = &cobra.Command{
		Use:   CmdStatus,
		Short: "Show language server availability",
		Args:  cobra.NoArgs,
		RunE:  runStatusCmd,
	}

	versionCmd = &cobra.Command{
		Use:   CmdVersion,
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(versionpkg.GetFullVersionInfo())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, FlagConfig, "", "Path to config file (default ~/.lsp-bridge/config.yaml)")
	rootCmd.PersistentFlags().IntVar(&timeoutSec, FlagTimeout, 10, "Per-operation timeout in seconds (1-60)")
	rootCmd.PersistentFlags().BoolVar(&formatJSON, FlagJSON, false, "Print results as JSON")
	rootCmd.PersistentFlags().StringVar(&workDir, FlagCwd, "", "Project root (default: current directory)")

	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(definitionCmd)
	rootCmd.AddCommand(referencesCmd)
	rootCmd.AddCommand(hoverCmd)
	rootCmd.AddCommand(signatureCmd)
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(codeActionsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

// operationTimeout clamps the --timeout flag to the supported window.
func operationTimeout() time.Duration {
	return common.ClampTimeout(
		time.Duration(timeoutSec)*time.Second,
		server.DefaultDiagnosticsTimeout,
		server.MinDiagnosticsTimeout,
		server.MaxDiagnosticsTimeout,
	)
}

// newManager builds a manager rooted at --cwd (or the current directory)
// with YAML overrides applied.
func newManager() (*server.Manager, error) {
	root := workDir
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		root = cwd
	}
	cfg := config.LoadOrDefault(configPath)
	return server.NewManager(root, registry.NewRegistry(), cfg), nil
}

// withManager runs fn with a manager and a signal-aware context, then
// shuts every spawned server down.
func withManager(fn func(ctx context.Context, mgr *server.Manager) error) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := fn(ctx, mgr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)

	return runErr
}

// parsePosition converts 1-based line/column arguments.
func parsePosition(lineArg, colArg string) (line, col int, err error) {
	line, err = strconv.Atoi(lineArg)
	if err != nil || line < 1 {
		return 0, 0, fmt.Errorf("invalid line %q: expected a 1-based integer", lineArg)
	}
	col, err = strconv.Atoi(colArg)
	if err != nil || col < 1 {
		return 0, 0, fmt.Errorf("invalid column %q: expected a 1-based integer", colArg)
	}
	return line, col, nil
}

func runDiagnosticsCmd(cmd *cobra.Command, args []string) error {
	return withManager(func(ctx context.Context, mgr *server.Manager) error {
		timeout := operationTimeout()
		if len(args) == 1 {
			result := mgr.TouchFileAndWait(ctx, args[0], timeout)
			return printTouchResult(args[0], result)
		}
		results := mgr.WorkspaceDiagnostics(ctx, args, timeout)
		return printFileResults(results)
	})
}

func runDefinitionCmd(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	return withManager(func(ctx context.Context, mgr *server.Manager) error {
		locations, err := mgr.GetDefinition(ctx, args[0], line, col)
		if err != nil {
			return err
		}
		return printLocations(locations)
	})
}

func runReferencesCmd(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	return withManager(func(ctx context.Context, mgr *server.Manager) error {
		locations, err := mgr.GetReferences(ctx, args[0], line, col)
		if err != nil {
			return err
		}
		return printLocations(locations)
	})
}

func runHoverCmd(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	return withManager(func(ctx context.Context, mgr *server.Manager) error {
		hover, err := mgr.GetHover(ctx, args[0], line, col)
		if err != nil {
			return err
		}
		return printHover(hover)
	})
}

func runSignatureCmd(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	return withManager(func(ctx context.Context, mgr *server.Manager) error {
		help, err := mgr.GetSignatureHelp(ctx, args[0], line, col)
		if err != nil {
			return err
		}
		return printSignatureHelp(help)
	})
}

func runSymbolsCmd(cmd *cobra.Command, args []string) error {
	return withManager(func(ctx context.Context, mgr *server.Manager) error {
		symbols, err := mgr.GetDocumentSymbols(ctx, args[0])
		if err != nil {
			return err
		}
		return printSymbols(symbols)
	})
}

func runRenameCmd(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	return withManager(func(ctx context.Context, mgr *server.Manager) error {
		edit, err := mgr.Rename(ctx, args[0], line, col, args[3])
		if err != nil {
			return err
		}
		return printWorkspaceEdit(edit)
	})
}

func runCodeActionsCmd(cmd *cobra.Command, args []string) error {
	startLine, startCol, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	endLine, endCol, err := parsePosition(args[3], args[4])
	if err != nil {
		return err
	}
	return withManager(func(ctx context.Context, mgr *server.Manager) error {
		actions, err := mgr.GetCodeActions(ctx, args[0], startLine, startCol, endLine, endCol)
		if err != nil {
			return err
		}
		return printCodeActions(actions)
	})
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Shutdown(context.Background())
	return printStatus(mgr.Root(), mgr.Status())
}
