package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"
)

const importCfgName = "importcfg.perfmark"

// readPackageFiles returns the packagefile entries of an importcfg.
func readPackageFiles(data []byte) map[string]string {
	files := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, "packagefile ")
		if !ok {
			continue
		}
		if path, file, ok := strings.Cut(rest, "="); ok {
			files[path] = file
		}
	}
	return files
}

// parseGoList reads the "import/path=export/file" lines printed by go list.
func parseGoList(out []byte) map[string]string {
	files := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		path, file, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || path == "" || file == "" {
			continue
		}
		files[path] = file
	}
	return files
}

// appendPackageFiles adds the entries of files missing from data, in import path order.
func appendPackageFiles(data []byte, known, files map[string]string) ([]byte, int) {
	paths := make([]string, 0, len(files))
	for path := range files {
		if _, ok := known[path]; !ok {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		buf.WriteByte('\n')
	}
	for _, path := range paths {
		fmt.Fprintf(&buf, "packagefile %s=%s\n", path, files[path])
	}
	return buf.Bytes(), len(paths)
}

// extendImportCfg writes a copy of the importcfg at cfgPath into destDir with the export data
// of the missing paths, and their dependencies when deps is set. It returns cfgPath unchanged
// when nothing is missing.
func extendImportCfg(ctx context.Context, log logr.Logger, goBin, cfgPath, destDir string,
	paths []string, deps bool) (string, error) {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return "", fmt.Errorf("read importcfg: %w", err)
	}
	known := readPackageFiles(data)

	var missing []string
	for _, path := range paths {
		if _, ok := known[path]; !ok {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return cfgPath, nil
	}

	listArgs := []string{"list", "-export", "-f", "{{.ImportPath}}={{.Export}}"}
	if deps {
		listArgs = append(listArgs, "-deps")
	}
	listArgs = append(listArgs, missing...)
	log.V(2).Info("resolving export data", "go", goBin, "args", listArgs)

	cmd := exec.CommandContext(ctx, goBin, listArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("go list %s: %w: %s", strings.Join(missing, " "), err, strings.TrimSpace(stderr.String()))
	}

	extended, added := appendPackageFiles(data, known, parseGoList(out))
	if added == 0 {
		return cfgPath, nil
	}
	dest := filepath.Join(destDir, importCfgName)
	if err := os.WriteFile(dest, extended, 0o644); err != nil {
		return "", fmt.Errorf("write importcfg: %w", err)
	}
	log.V(1).Info("extended importcfg", "dest", dest, "packages", added)
	return dest, nil
}

// goCommand locates the go binary of the toolchain running the tool at toolPath
// ($GOROOT/pkg/tool/$GOOS_$GOARCH/compile), falling back to go on $PATH.
func goCommand(toolPath string) string {
	goroot := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(toolPath))))
	name := "go"
	if ext := filepath.Ext(toolPath); ext == ".exe" {
		name += ext
	}
	bin := filepath.Join(goroot, "bin", name)
	if info, err := os.Stat(bin); err == nil && info.Mode().IsRegular() {
		return bin
	}
	return "go"
}
