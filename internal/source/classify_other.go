//go:build !unix

package source

func errnoClass(error) error {
	return nil
}
