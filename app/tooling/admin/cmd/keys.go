package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var keyPath string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a node key and print its address",
	RunE:  keygenRun,
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the address of a node key",
	RunE:  addressRun,
}

func init() {
	rootCmd.AddCommand(keygenCmd, addressCmd)
	keygenCmd.Flags().StringVarP(&keyPath, "key", "k", "zmix/node.ecdsa", "Path of the private key file.")
	addressCmd.Flags().StringVarP(&keyPath, "key", "k", "zmix/node.ecdsa", "Path of the private key file.")
}

func keygenRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}

	if err := crypto.SaveECDSA(keyPath, privateKey); err != nil {
		return err
	}

	fmt.Println(crypto.PubkeyToAddress(privateKey.PublicKey).Hex())
	return nil
}

func addressRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.LoadECDSA(keyPath)
	if err != nil {
		return err
	}

	fmt.Println(crypto.PubkeyToAddress(privateKey.PublicKey).Hex())
	return nil
}
