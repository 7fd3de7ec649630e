package service

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"imgvec/internal/domain"
)

// ProductsDirName holds one product_<name>.json per product.
const ProductsDirName = "products"

var imageNumberRe = regexp.MustCompile(`_(\d+)$`)

// ProductOf splits a file name of the form <product>_<n>.<ext> into the
// product name and image number. Names without a numeric suffix are image 1
// of a product named after the whole stem.
func ProductOf(name string) (string, int) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	m := imageNumberRe.FindStringSubmatchIndex(stem)
	if m == nil {
		return stem, 1
	}
	n, err := strconv.Atoi(stem[m[2]:m[3]])
	if err != nil {
		n = 1
	}
	return stem[:m[0]], n
}

// productIndex groups processed images by product in first-seen order.
type productIndex struct {
	order  []string
	groups map[string]*domain.ProductGroup
}

func newProductIndex() *productIndex {
	return &productIndex{groups: map[string]*domain.ProductGroup{}}
}

func (p *productIndex) add(doc domain.ImageDocument, modTime time.Time) {
	product, number := ProductOf(doc.ImageName)
	g, ok := p.groups[product]
	if !ok {
		g = &domain.ProductGroup{ProductName: product}
		p.groups[product] = g
		p.order = append(p.order, product)
	}
	g.Images = append(g.Images, domain.ProductImage{
		ImagePath:     doc.ImagePath,
		ImageName:     doc.ImageName,
		ImageHash:     doc.ImageHash,
		ImageNumber:   number,
		FileExtension: strings.ToLower(filepath.Ext(doc.ImageName)),
		FileSize:      doc.Metadata.FileSize,
		ModifiedAt:    modTime,
	})
	g.ImageCount = len(g.Images)
}

func (p *productIndex) len() int { return len(p.order) }

// write stores every group under dir/products, stamping created.
func (p *productIndex) write(dir string, created time.Time) error {
	out := filepath.Join(dir, ProductsDirName)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create products dir: %w", err)
	}
	for _, name := range p.order {
		g := p.groups[name]
		g.CreatedAt = created
		if err := writeJSON(filepath.Join(out, "product_"+name+".json"), g); err != nil {
			return fmt.Errorf("write product %s: %w", name, err)
		}
	}
	return nil
}
