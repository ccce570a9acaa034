package backend

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"workbench/internal/core/fsutil"
	"workbench/internal/core/pathguard"
	"workbench/internal/model"
)

const MaxReadBytes = 16 << 20

const (
	encodingUTF8   = "utf8"
	encodingBase64 = "base64"
)

func (p *project) resolve(rel string) (string, error) {
	return pathguard.Resolve(p.root, rel)
}

func (p *project) readFile(r *ReadFileRequest) (*model.FileContent, error) {
	abs, err := p.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, errNotAFile
	}
	if st.Size() > MaxReadBytes {
		return nil, fmt.Errorf("%w: %d bytes", errFileTooLarge, st.Size())
	}

	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	out := &model.FileContent{Size: int64(len(b))}
	if utf8.Valid(b) && bytes.IndexByte(b, 0) < 0 {
		out.Content, out.Encoding = string(b), encodingUTF8
	} else {
		out.Content, out.Encoding = base64.StdEncoding.EncodeToString(b), encodingBase64
	}
	return out, nil
}

func (p *project) writeFile(r *WriteFileRequest) (map[string]any, error) {
	abs, err := p.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	if pathguard.IsRoot(p.root, abs) {
		return nil, errNotAFile
	}

	var data []byte
	switch r.Encoding {
	case "", encodingUTF8:
		data = []byte(r.Content)
	case encodingBase64:
		data, err = base64.StdEncoding.DecodeString(r.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64", errBadRequest)
		}
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", errBadRequest, r.Encoding)
	}

	perm := os.FileMode(0o644)
	if st, err := os.Stat(abs); err == nil {
		if st.IsDir() {
			return nil, errNotAFile
		}
		perm = st.Mode().Perm()
	}
	if err := fsutil.WriteFileAtomic(abs, data, perm); err != nil {
		return nil, err
	}
	p.git.Invalidate()
	return map[string]any{"path": r.Path, "size": len(data)}, nil
}

func (p *project) listDir(r *ListDirRequest) ([]model.DirEntry, error) {
	abs, err := p.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, errNotADirectory
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	base, _ := pathguard.Rel(p.root, abs)

	out := make([]model.DirEntry, 0, len(entries))
	for _, d := range entries {
		rel := d.Name()
		if base != "" {
			rel = path.Join(base, d.Name())
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		isDir := d.IsDir()
		if info.Mode()&fs.ModeSymlink != 0 {
			if target, err := os.Stat(filepath.Join(abs, d.Name())); err == nil {
				isDir = target.IsDir()
			}
		}
		if !r.IncludeIgnored {
			if rel == ".git" || p.rules.IsIgnored(rel, isDir) {
				continue
			}
		}
		e := model.DirEntry{
			Name:    d.Name(),
			Path:    rel,
			IsDir:   isDir,
			ModTime: info.ModTime().UnixMilli(),
		}
		if !isDir {
			e.Size = info.Size()
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (p *project) stat(r *StatRequest) (*model.FileStat, error) {
	abs, err := p.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.FileStat{Exists: false}, nil
		}
		return nil, err
	}
	return &model.FileStat{
		Exists:  true,
		IsDir:   st.IsDir(),
		IsFile:  st.Mode().IsRegular(),
		Size:    st.Size(),
		ModTime: st.ModTime().UnixMilli(),
		Mode:    fmt.Sprintf("%#o", st.Mode().Perm()),
	}, nil
}

func (p *project) mkdir(r *MkdirRequest) (map[string]any, error) {
	abs, err := p.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	if st, err := os.Stat(abs); err == nil && !st.IsDir() {
		return nil, errNotADirectory
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return map[string]any{"path": r.Path}, nil
}

func (p *project) rename(r *RenameRequest) (map[string]any, error) {
	from, err := p.resolve(r.From)
	if err != nil {
		return nil, err
	}
	to, err := p.resolve(r.To)
	if err != nil {
		return nil, err
	}
	if pathguard.IsRoot(p.root, from) || pathguard.IsRoot(p.root, to) {
		return nil, errRootProtected
	}
	if _, err := os.Lstat(from); err != nil {
		return nil, err
	}
	if _, err := os.Lstat(to); err == nil {
		return nil, fmt.Errorf("%w: %s", errTargetExists, r.To)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(from, to); err != nil {
		return nil, err
	}
	p.git.Invalidate()
	return map[string]any{"from": r.From, "to": r.To}, nil
}

func (p *project) deleteFile(r *DeleteFileRequest) (map[string]any, error) {
	abs, err := p.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	st, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, errNotAFile
	}
	if err := os.Remove(abs); err != nil {
		return nil, err
	}
	p.git.Invalidate()
	return map[string]any{"path": r.Path}, nil
}

func (p *project) deleteDir(r *DeleteDirRequest) (map[string]any, error) {
	abs, err := p.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	if pathguard.IsRoot(p.root, abs) {
		return nil, errRootProtected
	}
	st, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, errNotADirectory
	}
	if err := os.RemoveAll(abs); err != nil {
		return nil, err
	}
	p.git.Invalidate()
	return map[string]any{"path": r.Path}, nil
}
